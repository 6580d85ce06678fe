package packmatic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// SourceSpec describes where an entry's bytes come from. Open is called at
// most once per entry, when the encoder reaches it; the returned reader is
// pulled until EOF and then closed by the encoder.
type SourceSpec interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads an entry's bytes from a local file.
type FileSource struct {
	path string
}

// File returns a source backed by the local file at path.
func File(path string) FileSource {
	return FileSource{path: path}
}

func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(s.path)
}

// ContentSource serves an entry's bytes from an in-memory literal. It is
// also what injected synthetic entries typically use.
type ContentSource struct {
	data []byte
}

// Content returns a source serving the given bytes.
func Content(data []byte) ContentSource {
	return ContentSource{data: data}
}

func (s ContentSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

// URLSource streams an entry's bytes from an HTTP(S) URL.
type URLSource struct {
	url     string
	client  *http.Client
	headers http.Header
}

// URLOption configures a URLSource.
type URLOption func(*URLSource)

// URLWithClient sets the HTTP client used for the request.
func URLWithClient(client *http.Client) URLOption {
	return func(s *URLSource) {
		s.client = client
	}
}

// URLWithHeader sets a request header.
func URLWithHeader(key, value string) URLOption {
	return func(s *URLSource) {
		if s.headers == nil {
			s.headers = make(http.Header)
		}
		s.headers.Set(key, value)
	}
}

// URL returns a source that issues a GET request when opened.
func URL(url string, opts ...URLOption) *URLSource {
	s := &URLSource{
		url:    url,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	return s
}

func (s *URLSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %s", s.url, resp.Status)
	}
	return resp.Body, nil
}

// FuncSource adapts a callback into a SourceSpec, for dynamically produced
// content.
type FuncSource func(ctx context.Context) (io.ReadCloser, error)

func (s FuncSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return s(ctx)
}
