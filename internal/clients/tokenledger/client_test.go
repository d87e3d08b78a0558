package tokenledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferFrom(t *testing.T) {
	var got transferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transfer-from", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(apiResponse{Success: true})
	}))
	defer server.Close()

	client := NewClient(server.URL, "pool", zerolog.Nop())

	require.NoError(t, client.TransferFrom("alice", "pool", 50))
	assert.Equal(t, transferRequest{From: "alice", To: "pool", Amount: 50}, got)
}

func TestTransferSendsFromPool(t *testing.T) {
	var got transferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transfer", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(apiResponse{Success: true})
	}))
	defer server.Close()

	client := NewClient(server.URL, "pool", zerolog.Nop())

	require.NoError(t, client.Transfer("bob", 75))
	assert.Equal(t, "pool", got.From)
	assert.Equal(t, "bob", got.To)
}

func TestTransferRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(apiResponse{Success: false, Error: "insufficient balance"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "pool", zerolog.Nop())

	err := client.Transfer("bob", 75)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestTransferServerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // closed before use

	client := NewClient(server.URL, "pool", zerolog.Nop())
	assert.Error(t, client.Transfer("bob", 10))
}

func TestBalanceOf(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/balance/alice", r.URL.Path)
		json.NewEncoder(w).Encode(balanceResponse{Account: "alice", Balance: 1234})
	}))
	defer server.Close()

	client := NewClient(server.URL, "pool", zerolog.Nop())

	balance, err := client.BalanceOf("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), balance)
}
