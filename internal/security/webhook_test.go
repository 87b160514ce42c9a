package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func slackRequest(secret, body string, ts time.Time) *http.Request {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + stamp + ":" + body))

	req := httptest.NewRequest(http.MethodPost, "/slack/webhook", strings.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", stamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
}

func TestSlackSignature_Valid(t *testing.T) {
	h := SlackSignature("shh", testLogger())(echoHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, slackRequest("shh", `{"type":"event_callback"}`, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"type":"event_callback"}` {
		t.Errorf("body not restored for next handler: %q", rec.Body.String())
	}
}

func TestSlackSignature_WrongSecret(t *testing.T) {
	h := SlackSignature("shh", testLogger())(echoHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, slackRequest("other", `{}`, time.Now()))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestSlackSignature_StaleTimestamp(t *testing.T) {
	h := SlackSignature("shh", testLogger())(echoHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, slackRequest("shh", `{}`, time.Now().Add(-10*time.Minute)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestSlackSignature_MissingHeaders(t *testing.T) {
	h := SlackSignature("shh", testLogger())(echoHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/slack/webhook", strings.NewReader("{}")))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestTelegramSecret(t *testing.T) {
	h := TelegramSecret("s3cret", testLogger())(echoHandler())

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{}"))
	req.Header.Set(TelegramSecretHeader, "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("matching secret: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{}"))
	req.Header.Set(TelegramSecretHeader, "nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong secret: status = %d", rec.Code)
	}
}

func TestTelegramSecret_Disabled(t *testing.T) {
	h := TelegramSecret("", testLogger())(echoHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{}")))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
