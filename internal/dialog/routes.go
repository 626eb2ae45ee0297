package dialog

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/httputil"
)

const secretHeader = "X-Webhook-Secret"

func RegisterRoutes(r chi.Router, h *Handler, secret string) {
	r.Group(func(r chi.Router) {
		r.Use(RequireSecret(secret))

		r.Post("/webhook/messages", h.HandleMessage)
		r.Post("/webhook/amocrm", h.HandleAmoCRMWebhook)

		r.Get("/conversations/{id}/messages", h.GetMessages)
		r.Get("/conversations/{id}/summary", h.GetSummary)
		r.Get("/stats", h.GetStats)

		r.Get("/config/{key}", h.GetConfig)
		r.Put("/config/{key}", h.PutConfig)

		r.Post("/history/import", h.ImportHistory)
	})
}

// RequireSecret rejects requests without the shared secret header.
// An empty secret disables the check.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(secretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				httputil.RespondError(w, http.StatusUnauthorized, "invalid webhook secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
