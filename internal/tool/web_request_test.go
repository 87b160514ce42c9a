package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newWebRequestTest allows the loopback test server through the private
// address check unless the URL contains "/private".
func newWebRequestTest(t *testing.T, h http.HandlerFunc) (*WebRequest, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	w := NewWebRequest(nil)
	w.isPrivate = func(_ context.Context, u string) bool { return strings.Contains(u, "/private") }
	return w, srv
}

type webResult struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body"`
}

func decodeWebResult(t *testing.T, out string) webResult {
	t.Helper()
	var r webResult
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, out)
	}
	return r
}

func TestWebRequest_PostJSON(t *testing.T) {
	w, srv := newWebRequestTest(t, func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" || r.Header.Get("X-Api-Key") != "k1" {
			t.Errorf("request = %s %q %q", r.Method, r.Header.Get("Content-Type"), r.Header.Get("X-Api-Key"))
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("X-Internal", "hidden")
		rw.WriteHeader(http.StatusCreated)
		rw.Write(body)
	})

	out, err := w.Execute(context.Background(), map[string]any{
		"operation": "post",
		"url":       srv.URL + "/items",
		"headers":   map[string]any{"X-Api-Key": "k1"},
		"body":      `{"name":"<b>"}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	r := decodeWebResult(t, out)
	if r.Status != http.StatusCreated || r.Body == nil || *r.Body != `{"name":"<b>"}` {
		t.Errorf("result = %+v", r)
	}
	if r.Headers["content-type"] != "application/json" || r.Headers["x-internal"] != "" {
		t.Errorf("headers = %v", r.Headers)
	}
	if strings.Contains(out, `\u003c`) {
		t.Error("body should not be HTML-escaped")
	}
}

func TestWebRequest_HeadOmitsBody(t *testing.T) {
	w, srv := newWebRequestTest(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/html")
	})
	out, _ := w.Execute(context.Background(), map[string]any{"operation": "head", "url": srv.URL})
	r := decodeWebResult(t, out)
	if r.Status != http.StatusOK || r.Body != nil {
		t.Errorf("result = %+v", r)
	}
}

func TestWebRequest_TruncatesBody(t *testing.T) {
	w, srv := newWebRequestTest(t, func(rw http.ResponseWriter, r *http.Request) {
		io.WriteString(rw, strings.Repeat("x", maxResponseBytes+50))
	})
	out, _ := w.Execute(context.Background(), map[string]any{"operation": "get", "url": srv.URL})
	r := decodeWebResult(t, out)
	if r.Body == nil || !strings.HasSuffix(*r.Body, truncatedNote) || len(*r.Body) != maxResponseBytes+len(truncatedNote) {
		t.Errorf("body length = %d", len(*r.Body))
	}
}

func TestWebRequest_Redirects(t *testing.T) {
	w, srv := newWebRequestTest(t, func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/to-private":
			http.Redirect(rw, r, "/private", http.StatusFound)
		default:
			http.Redirect(rw, r, "/loop", http.StatusFound)
		}
	})

	out, _ := w.Execute(context.Background(), map[string]any{"operation": "get", "url": srv.URL + "/to-private"})
	if !strings.HasPrefix(out, "HTTP request failed:") || !strings.Contains(out, errPrivateRedirect.Error()) {
		t.Errorf("private redirect = %q", out)
	}
	out, _ = w.Execute(context.Background(), map[string]any{"operation": "get", "url": srv.URL + "/loop"})
	if !strings.Contains(out, "stopped after 5 redirects") {
		t.Errorf("redirect loop = %q", out)
	}
}

func TestWebRequest_Validation(t *testing.T) {
	w := NewWebRequest(nil)
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"invalid url", map[string]any{"operation": "get", "url": "not a url"}, "Invalid URL: not a url"},
		{"missing url", map[string]any{"operation": "get"}, `The "url" parameter is required.`},
		{"loopback", map[string]any{"operation": "get", "url": "http://127.0.0.1:8080/admin"}, privateAddressText},
		{"localhost", map[string]any{"operation": "get", "url": "http://localhost/"}, privateAddressText},
		{"unknown op", map[string]any{"operation": "options", "url": "http://93.184.216.34/"},
			"Unknown operation 'options'. Available: get, head, post, put, patch, delete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := w.Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsPrivateURL(t *testing.T) {
	tests := map[string]bool{
		"http://127.0.0.1/":       true,
		"http://10.1.2.3/":        true,
		"http://192.168.0.10:80/": true,
		"http://169.254.169.254/": true,
		"http://[::1]:9000/":      true,
		"http://0.0.0.0/":         true,
		"http://93.184.216.34/":   false,
		"http://[2606:4700::1]/":  false,
		"file:///etc/passwd":      true,
	}
	for u, want := range tests {
		if got := isPrivateURL(context.Background(), u); got != want {
			t.Errorf("isPrivateURL(%q) = %v, want %v", u, got, want)
		}
	}
}
