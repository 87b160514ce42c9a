// Package security authenticates inbound webhook calls before they reach an
// adapter.
package security

import (
	"bytes"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
)

// MaxWebhookBody caps the bytes read from a webhook request.
const MaxWebhookBody = 1 << 20

// TelegramSecretHeader carries the secret registered with setWebhook.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// SlackSignature rejects requests whose X-Slack-Signature does not match
// the signing secret, or whose timestamp is outside Slack's replay window.
// The body is restored for the next handler.
func SlackSignature(signingSecret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBody))
			r.Body.Close()
			if err != nil {
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}

			sv, err := slack.NewSecretsVerifier(r.Header, signingSecret)
			if err != nil {
				logger.Warn("slack signature headers rejected", "error", err, "remote", r.RemoteAddr)
				http.Error(w, "Invalid signature", http.StatusUnauthorized)
				return
			}
			if _, err := sv.Write(body); err != nil {
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}
			if err := sv.Ensure(); err != nil {
				logger.Warn("slack signature mismatch", "remote", r.RemoteAddr)
				http.Error(w, "Invalid signature", http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// TelegramSecret checks the secret token header. An empty secret disables
// the check.
func TelegramSecret(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(TelegramSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				logger.Warn("telegram secret token mismatch", "remote", r.RemoteAddr)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
