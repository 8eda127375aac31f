package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"

	"learnperf/internal/httpclient"
)

const (
	// DefaultMaxBodySize caps a single fetched asset.
	DefaultMaxBodySize = 64 << 20

	// videoPreloadBytes is how much of a video is fetched as metadata preload.
	videoPreloadBytes = 64 << 10
)

// FetchRequest identifies the chunk to fetch.
type FetchRequest struct {
	ID   string
	Kind Kind
	URL  string
}

// Fetcher retrieves a chunk's payload. Implementations must honor ctx.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req FetchRequest) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) ([]byte, error) {
	return f(ctx, req)
}

// HTTPFetcher fetches chunks over HTTP with a strategy per kind.
type HTTPFetcher struct {
	client      *http.Client
	maxBodySize int64
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client uses
// httpclient.NewHTTPClient(nil).
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = httpclient.NewHTTPClient(nil)
	}
	return &HTTPFetcher{client: client, maxBodySize: DefaultMaxBodySize}
}

// Fetch dispatches on the chunk kind.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) ([]byte, error) {
	switch req.Kind {
	case KindText:
		return f.fetchText(ctx, req.URL)
	case KindImage:
		return f.fetchImage(ctx, req.URL)
	case KindVideo:
		return f.fetchVideo(ctx, req.URL)
	case KindModel3D:
		body, _, err := f.get(ctx, req.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load 3D model: %w", err)
		}
		return body, nil
	case KindInteractive:
		return f.fetchInteractive(ctx, req.URL)
	}
	return nil, fmt.Errorf("unsupported chunk kind %q", req.Kind)
}

func (f *HTTPFetcher) fetchText(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return decodeDataURL(rawURL)
	}
	body, _, err := f.get(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load text: %w", err)
	}
	return body, nil
}

// fetchImage downloads the image and decodes its header; a successful
// decode is the load completion signal.
func (f *HTTPFetcher) fetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	if strings.HasPrefix(rawURL, "data:") {
		body, err = decodeDataURL(rawURL)
	} else {
		body, _, err = f.get(ctx, rawURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return body, nil
}

// videoMeta is cached for video chunks instead of the media itself.
type videoMeta struct {
	URL           string `json:"url"`
	ContentType   string `json:"content_type,omitempty"`
	ContentRange  string `json:"content_range,omitempty"`
	ContentLength int64  `json:"content_length,omitempty"`
	Preloaded     int    `json:"preloaded"`
}

// fetchVideo preloads only the first bytes of a video, which is enough for
// a player to read its metadata.
func (f *HTTPFetcher) fetchVideo(ctx context.Context, rawURL string) ([]byte, error) {
	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=0-%d", videoPreloadBytes-1))

	body, resp, err := f.getLimited(ctx, rawURL, header, videoPreloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to load video: %w", err)
	}
	if len(body) > videoPreloadBytes {
		body = body[:videoPreloadBytes]
	}

	return json.Marshal(videoMeta{
		URL:           rawURL,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentRange:  resp.Header.Get("Content-Range"),
		ContentLength: resp.ContentLength,
		Preloaded:     len(body),
	})
}

func (f *HTTPFetcher) fetchInteractive(ctx context.Context, rawURL string) ([]byte, error) {
	body, _, err := f.get(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactive content: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("failed to load interactive content: response is not valid JSON")
	}
	return body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string, header http.Header) ([]byte, *http.Response, error) {
	body, resp, err := f.getLimited(ctx, rawURL, header, f.maxBodySize)
	if err != nil {
		return nil, nil, err
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, nil, fmt.Errorf("body exceeds %d bytes", f.maxBodySize)
	}
	return body, resp, nil
}

// getLimited issues a GET and returns at most limit+1 decoded body bytes.
func (f *HTTPFetcher) getLimited(ctx context.Context, rawURL string, header http.Header, limit int64) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	reader, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, nil, err
	}
	body, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, nil, err
	}
	return body, resp, nil
}

// decodeBody wraps r according to the Content-Encoding header.
func decodeBody(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, nil
	case "br":
		return brotli.NewReader(r), nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return gz, nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

// decodeDataURL returns the payload of a data: URL.
func decodeDataURL(raw string) ([]byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, errors.New("not a data url")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("malformed data url")
	}
	if strings.HasSuffix(meta, ";base64") {
		out, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("malformed data url: %w", err)
		}
		return out, nil
	}
	out, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("malformed data url: %w", err)
	}
	return []byte(out), nil
}
