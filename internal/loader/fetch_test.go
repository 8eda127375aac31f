package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newAssetServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcher_Text(t *testing.T) {
	f := NewHTTPFetcher(nil)

	t.Run("DataURL", func(t *testing.T) {
		body, err := f.Fetch(context.Background(), FetchRequest{ID: "text_0", Kind: KindText, URL: textDataURL("hello world")})
		require.NoError(t, err)
		require.Equal(t, "hello world", string(body))
	})

	t.Run("Brotli", func(t *testing.T) {
		srv := newAssetServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriter(w)
			_, _ = bw.Write([]byte("compressed lesson text"))
			_ = bw.Close()
		})
		body, err := f.Fetch(context.Background(), FetchRequest{Kind: KindText, URL: srv.URL})
		require.NoError(t, err)
		require.Equal(t, "compressed lesson text", string(body))
	})

	t.Run("Gzip", func(t *testing.T) {
		srv := newAssetServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "gzip")
			gw := gzip.NewWriter(w)
			_, _ = gw.Write([]byte("gzipped lesson text"))
			_ = gw.Close()
		})
		body, err := f.Fetch(context.Background(), FetchRequest{Kind: KindText, URL: srv.URL})
		require.NoError(t, err)
		require.Equal(t, "gzipped lesson text", string(body))
	})
}

func TestHTTPFetcher_Image(t *testing.T) {
	f := NewHTTPFetcher(nil)
	data := pngBytes(t)

	srv := newAssetServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(data)
		case "/broken.png":
			_, _ = w.Write([]byte("not an image"))
		default:
			http.NotFound(w, r)
		}
	})

	body, err := f.Fetch(context.Background(), FetchRequest{Kind: KindImage, URL: srv.URL + "/ok.png"})
	require.NoError(t, err)
	require.Equal(t, data, body)

	_, err = f.Fetch(context.Background(), FetchRequest{Kind: KindImage, URL: srv.URL + "/broken.png"})
	require.ErrorContains(t, err, "failed to load image")

	_, err = f.Fetch(context.Background(), FetchRequest{Kind: KindImage, URL: srv.URL + "/missing.png"})
	require.ErrorContains(t, err, "404")

	inline := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	body, err = f.Fetch(context.Background(), FetchRequest{Kind: KindImage, URL: inline})
	require.NoError(t, err)
	require.Equal(t, data, body)
}

func TestHTTPFetcher_Video(t *testing.T) {
	f := NewHTTPFetcher(nil)
	media := bytes.Repeat([]byte{0x42}, 3*videoPreloadBytes)

	var gotRange string
	srv := newAssetServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Content-Type", "video/mp4")
		// a server that ignores Range sends everything
		_, _ = w.Write(media)
	})

	body, err := f.Fetch(context.Background(), FetchRequest{Kind: KindVideo, URL: srv.URL + "/intro.mp4"})
	require.NoError(t, err)
	require.Equal(t, "bytes=0-65535", gotRange)

	var meta videoMeta
	require.NoError(t, json.Unmarshal(body, &meta))
	require.Equal(t, srv.URL+"/intro.mp4", meta.URL)
	require.Equal(t, "video/mp4", meta.ContentType)
	require.Equal(t, videoPreloadBytes, meta.Preloaded)
}

func TestHTTPFetcher_Model3D(t *testing.T) {
	f := NewHTTPFetcher(nil)
	srv := newAssetServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("glTF"))
	})

	body, err := f.Fetch(context.Background(), FetchRequest{Kind: KindModel3D, URL: srv.URL + "/m.glb"})
	require.NoError(t, err)
	require.Equal(t, "glTF", string(body))
}

func TestHTTPFetcher_Interactive(t *testing.T) {
	f := NewHTTPFetcher(nil)
	srv := newAssetServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/quiz.json" {
			_, _ = w.Write([]byte(`{"questions":[{"q":"2+2","a":4}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"questions":[`))
	})

	body, err := f.Fetch(context.Background(), FetchRequest{Kind: KindInteractive, URL: srv.URL + "/quiz.json"})
	require.NoError(t, err)
	require.JSONEq(t, `{"questions":[{"q":"2+2","a":4}]}`, string(body))

	_, err = f.Fetch(context.Background(), FetchRequest{Kind: KindInteractive, URL: srv.URL + "/broken.json"})
	require.ErrorContains(t, err, "not valid JSON")
}

func TestHTTPFetcher_BodyLimit(t *testing.T) {
	f := NewHTTPFetcher(nil)
	f.maxBodySize = 8
	srv := newAssetServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	})

	_, err := f.Fetch(context.Background(), FetchRequest{Kind: KindModel3D, URL: srv.URL})
	require.ErrorContains(t, err, "exceeds 8 bytes")
}

func TestHTTPFetcher_ContextCancelled(t *testing.T) {
	f := NewHTTPFetcher(nil)
	srv := newAssetServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, FetchRequest{Kind: KindModel3D, URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
}

func TestHTTPFetcher_UnsupportedKind(t *testing.T) {
	_, err := NewHTTPFetcher(nil).Fetch(context.Background(), FetchRequest{Kind: "audio", URL: "https://x.test"})
	require.ErrorContains(t, err, "unsupported chunk kind")
}

func TestDecodeDataURL(t *testing.T) {
	out, err := decodeDataURL("data:text/plain,hello%20there")
	require.NoError(t, err)
	require.Equal(t, "hello there", string(out))

	_, err = decodeDataURL("data:text/plain;base64,!!!")
	require.Error(t, err)

	_, err = decodeDataURL("data:no-comma")
	require.Error(t, err)

	_, err = decodeDataURL("https://x.test")
	require.Error(t, err)
}

func TestDecodeBody_UnknownEncoding(t *testing.T) {
	_, err := decodeBody(bytes.NewReader(nil), "zstd")
	require.ErrorContains(t, err, "unsupported content encoding")
}
