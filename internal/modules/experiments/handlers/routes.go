package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers experiment routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/experiments", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGet(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/odds", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetOdds(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/positions/{participant}", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetPosition(w, r, chi.URLParam(r, "id"), chi.URLParam(r, "participant"))
			})

			r.Post("/deposit", func(w http.ResponseWriter, r *http.Request) {
				h.HandleDeposit(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/undeposit", func(w http.ResponseWriter, r *http.Request) {
				h.HandleUndeposit(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/bet", func(w http.ResponseWriter, r *http.Request) {
				h.HandleBet(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/unbet", func(w http.ResponseWriter, r *http.Request) {
				h.HandleUnbet(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/claim", func(w http.ResponseWriter, r *http.Request) {
				h.HandleClaim(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/withdraw", func(w http.ResponseWriter, r *http.Request) {
				h.HandleWithdraw(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/close", func(w http.ResponseWriter, r *http.Request) {
				h.HandleClose(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/refund", func(w http.ResponseWriter, r *http.Request) {
				h.HandleRefund(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/return-bets", func(w http.ResponseWriter, r *http.Request) {
				h.HandleReturnBets(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/result", func(w http.ResponseWriter, r *http.Request) {
				h.HandleSetResult(w, r, chi.URLParam(r, "id"))
			})
		})
	})

	r.Get("/participants/{address}/funded", func(w http.ResponseWriter, r *http.Request) {
		h.HandleListFunded(w, r, chi.URLParam(r, "address"))
	})
}
