package attachment

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"clawgate/internal/domain"
)

// Remote is a protocol-native file reference resolved to a URL.
type Remote struct {
	URL      string
	Filename string
	// MimeType wins over the response Content-Type when set.
	MimeType string
	Header   http.Header
}

// Fetcher downloads remote files into a Store.
type Fetcher struct {
	store  *Store
	client *http.Client
}

func NewFetcher(store *Store, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{store: store, client: client}
}

// Store returns the store files are saved to.
func (f *Fetcher) Store() *Store { return f.store }

// Fetch downloads r and saves it under protocol.
func (f *Fetcher) Fetch(ctx context.Context, protocol string, r Remote) (domain.Attachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("build download request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.Attachment{}, fmt.Errorf("download attachment: HTTP %d", resp.StatusCode)
	}

	mimeType := r.MimeType
	if mimeType == "" {
		if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
			mimeType = mt
		}
	}
	filename := r.Filename
	if filename == "" {
		filename = filenameFromResponse(resp, r.URL)
	}
	return f.store.Save(ctx, protocol, filename, mimeType, resp.Body)
}

func filenameFromResponse(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		rawURL = resp.Request.URL.Path
	}
	rawURL, _, _ = strings.Cut(rawURL, "?")
	base := path.Base(rawURL)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
