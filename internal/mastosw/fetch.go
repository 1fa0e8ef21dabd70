package mastosw

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Fetcher performs a network fetch. An error means the request never got an
// HTTP response (offline, refused, timed out); any status is a success.
type Fetcher interface {
	Fetch(req *http.Request) (CacheEntry, error)
}

type FetcherFunc func(req *http.Request) (CacheEntry, error)

func (f FetcherFunc) Fetch(req *http.Request) (CacheEntry, error) { return f(req) }

type httpFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(client *http.Client) Fetcher {
	return &httpFetcher{client: client}
}

func (f *httpFetcher) Fetch(req *http.Request) (CacheEntry, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return CacheEntry{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("read %s: %w", req.URL, err)
	}
	return newEntry(resp.StatusCode, resp.Header, body), nil
}

// outgoing builds the network request for an intercepted one.
func outgoing(ctx context.Context, in *http.Request, target string) (*http.Request, error) {
	var body io.Reader
	if in.Method != http.MethodGet && in.Method != http.MethodHead {
		body = in.Body
	}
	req, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, in.Header)
	req.Header.Set("Accept-Encoding", "identity")
	if body != nil {
		req.ContentLength = in.ContentLength
	}
	return req, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Accept-Encoding") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
