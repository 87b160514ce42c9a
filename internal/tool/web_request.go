package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clawgate/internal/domain"
)

const (
	webRequestTimeout  = 15 * time.Second
	maxRedirects       = 5
	maxResponseBytes   = 100 * 1024
	truncatedNote      = "\n\n[Truncated: response exceeds 100KB]"
	privateAddressText = "Requests to private/internal network addresses are not allowed."
)

var errPrivateRedirect = errors.New("redirect to private/internal network address blocked")

// summarizedHeaders are the response headers reported back to the model.
var summarizedHeaders = []string{"Content-Type", "Content-Length", "Location", "X-Request-Id"}

type webRequestArgs struct {
	Operation string         `json:"operation" validate:"required"`
	URL       string         `json:"url" validate:"required,http_url"`
	Headers   map[string]any `json:"headers"`
	Body      *string        `json:"body"`
}

// WebRequest performs HTTP requests against public addresses.
type WebRequest struct {
	client *http.Client
	ops    *OperationTable[webRequestArgs]
	// isPrivate reports whether a URL points into a private network.
	isPrivate func(ctx context.Context, rawURL string) bool
}

func NewWebRequest(confirmer Confirmer) *WebRequest {
	w := &WebRequest{isPrivate: isPrivateURL}
	w.client = &http.Client{
		Timeout: webRequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if w.isPrivate(req.Context(), req.URL.String()) {
				return errPrivateRedirect
			}
			return nil
		},
	}
	send := func(method string) func(context.Context, *webRequestArgs) (string, error) {
		return func(ctx context.Context, args *webRequestArgs) (string, error) {
			return w.send(ctx, method, args)
		}
	}
	w.ops = NewOperationTable(confirmer,
		Operation[webRequestArgs]{Name: "get", Run: send(http.MethodGet)},
		Operation[webRequestArgs]{Name: "head", Run: send(http.MethodHead)},
		Operation[webRequestArgs]{Name: "post", Run: send(http.MethodPost)},
		Operation[webRequestArgs]{Name: "put", Run: send(http.MethodPut)},
		Operation[webRequestArgs]{Name: "patch", Run: send(http.MethodPatch)},
		Operation[webRequestArgs]{Name: "delete", Run: send(http.MethodDelete)},
	)
	return w
}

func (w *WebRequest) Name() string { return "web_request" }

func (w *WebRequest) Description() string {
	return "Make HTTP requests. Operations: " + strings.Join(w.ops.Names(), ", ") +
		". Returns status code, headers, and body (truncated to 100KB)."
}

func (w *WebRequest) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"operation": {Type: "string", Description: "HTTP method: " + strings.Join(w.ops.Names(), ", "), Enum: w.ops.Names()},
		"url":       {Type: "string", Description: "The URL to request"},
		"headers":   {Type: "object", Description: "Request headers as key-value pairs"},
		"body":      {Type: "string", Description: "Request body (JSON string) for POST/PUT/PATCH"},
	}, []string{"operation", "url"})
}

func (w *WebRequest) Execute(ctx context.Context, raw map[string]any) (string, error) {
	var args webRequestArgs
	if msg, err := DecodeArgs(raw, &args); msg != "" || err != nil {
		return msg, err
	}
	if w.isPrivate(ctx, args.URL) {
		return privateAddressText, nil
	}
	return w.ops.Dispatch(ctx, args.Operation, raw, &args)
}

func (w *WebRequest) send(ctx context.Context, method string, args *webRequestArgs) (string, error) {
	var body io.Reader
	contentType := ""
	if args.Body != nil && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		body = strings.NewReader(*args.Body)
		contentType = "text/plain"
		if json.Valid([]byte(*args.Body)) {
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, args.URL, body)
	if err != nil {
		return fmt.Sprintf("HTTP request failed: %v", err), nil
	}
	for k, v := range args.Headers {
		req.Header.Set(k, fmt.Sprint(v))
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Sprintf("HTTP request failed: %v", err), nil
	}
	defer resp.Body.Close()

	out := map[string]any{
		"status":  resp.StatusCode,
		"headers": summarizeHeaders(resp.Header),
	}
	if method != http.MethodHead {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
		if err != nil {
			return fmt.Sprintf("HTTP request failed: %v", err), nil
		}
		text := string(data)
		if len(data) > maxResponseBytes {
			text = string(data[:maxResponseBytes]) + truncatedNote
		}
		out["body"] = text
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func summarizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string)
	for _, name := range summarizedHeaders {
		if v := h.Values(name); len(v) > 0 {
			out[strings.ToLower(name)] = strings.Join(v, ", ")
		}
	}
	return out
}

// isPrivateURL reports whether rawURL targets loopback, private, link-local
// or unspecified addresses, resolving host names first. Unresolvable hosts
// are left to fail at request time.
func isPrivateURL(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return true
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return isPrivateIP(ip)
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if isPrivateIP(a.IP) {
			return true
		}
	}
	return false
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

var _ domain.Tool = (*WebRequest)(nil)
