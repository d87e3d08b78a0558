package events

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// journalRecord is the on-disk shape of a journaled event. The payload
// is kept as a nested map so records stay decodable as event data
// types evolve.
type journalRecord struct {
	ID        string                 `msgpack:"id"`
	Type      string                 `msgpack:"type"`
	Timestamp time.Time              `msgpack:"timestamp"`
	Data      map[string]interface{} `msgpack:"data"`
}

// Journal appends every published event to an append-only msgpack file.
// Since emitted notifications are the system's audit trail, the journal
// is the durable copy of that trail.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	enc  *msgpack.Encoder
	log  zerolog.Logger
}

// NewJournal opens (or creates) the journal file in dataDir
func NewJournal(dataDir string, log zerolog.Logger) (*Journal, error) {
	path := filepath.Join(dataDir, "events.journal")

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open events journal: %w", err)
	}

	return &Journal{
		file: file,
		enc:  msgpack.NewEncoder(file),
		log:  log.With().Str("component", "events_journal").Logger(),
	}, nil
}

// Append writes one event to the journal. Errors are logged, not
// propagated: journal failures must never fail a state transition.
func (j *Journal) Append(event *Event) {
	record := journalRecord{
		ID:        event.ID,
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Data:      toMap(event.Data),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(record); err != nil {
		j.log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to journal event")
	}
}

// Close flushes and closes the journal file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// toMap converts an event payload to a generic map via msgpack roundtrip
func toMap(data EventData) map[string]interface{} {
	raw, err := msgpack.Marshal(data)
	if err != nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{})
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
