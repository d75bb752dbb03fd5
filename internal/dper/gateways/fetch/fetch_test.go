package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logpkg "github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/domain"
)

var cacheTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// writeCacheFile seeds a cache file with a known mtime.
func writeCacheFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "example.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, cacheTime, cacheTime))
	return path
}

func newTestGateway(logger logpkg.Logger) *Gateway {
	return NewGateway(Options{Logger: logger, ConnectTimeout: time.Second, ReadTimeout: time.Second})
}

func TestFetch_NoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("If-Modified-Since"))
		_, _ = w.Write([]byte(`{"zones":[]}`))
	}))
	defer srv.Close()

	g := newTestGateway(nil)
	payload, err := g.Fetch(context.Background(), domain.FetchRequest{PeerID: "example", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, `{"zones":[]}`, string(payload.Data))
	assert.False(t, payload.FromCache)
	assert.Equal(t, http.StatusOK, payload.StatusCode)
}

func TestFetch_NoCacheErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestGateway(nil).Fetch(context.Background(), domain.FetchRequest{PeerID: "example", URL: srv.URL})
	require.Error(t, err)

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, "example", fe.PeerID)
}

func TestFetch_FirstFetchPopulatesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("If-Modified-Since"), "never fetched, request must be unconditional")
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	cachePath := filepath.Join(t.TempDir(), "example.json")
	payload, err := newTestGateway(nil).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "example", URL: srv.URL, CachePath: cachePath,
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(payload.Data))

	cached, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(cached))
}

func TestFetch_NotModifiedUsesCacheWithoutWrite(t *testing.T) {
	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	cachePath := writeCacheFile(t, t.TempDir(), "cached")

	payload, err := newTestGateway(nil).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "example", URL: srv.URL, CachePath: cachePath,
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", string(payload.Data))
	assert.True(t, payload.FromCache)
	assert.Equal(t, http.StatusNotModified, payload.StatusCode)
	assert.Equal(t, "Tue, 02 Jan 2024 03:04:05 GMT", gotSince)

	st, err := os.Stat(cachePath)
	require.NoError(t, err)
	assert.True(t, st.ModTime().Equal(cacheTime), "cache file must not be rewritten on 304")
}

func TestFetch_ModifiedReplacesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("If-Modified-Since"))
		_, _ = w.Write([]byte("updated"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cachePath := writeCacheFile(t, dir, "cached")

	payload, err := newTestGateway(nil).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "example", URL: srv.URL, CachePath: cachePath,
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", string(payload.Data))
	assert.False(t, payload.FromCache)

	cached, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, "updated", string(cached))

	st, err := os.Stat(cachePath)
	require.NoError(t, err)
	assert.True(t, st.ModTime().After(cacheTime))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestFetch_ErrorStatusWithCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cachePath := writeCacheFile(t, t.TempDir(), "cached")
	_, err := newTestGateway(nil).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "example", URL: srv.URL, CachePath: cachePath,
	})

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
}

func TestFetch_TransportErrorFallsBackToCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	rec := logpkg.NewRecorder()
	cachePath := writeCacheFile(t, t.TempDir(), "cached")

	payload, err := newTestGateway(rec).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "example", URL: url, CachePath: cachePath,
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", string(payload.Data))
	assert.True(t, payload.FromCache)
	assert.Zero(t, payload.StatusCode)

	assert.Len(t, rec.Filter("error", "connection failed"), 1)
	assert.Len(t, rec.Filter("warn", "reverting to cached data"), 1)
}

func TestFetch_TransportErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cachePath := filepath.Join(t.TempDir(), "example.json")
	_, err := newTestGateway(nil).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "example", URL: url, CachePath: cachePath,
	})

	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "example", te.PeerID)
	assert.Equal(t, url, te.URL)
}

// truncatedServer announces a longer body than it sends, then drops the connection.
func truncatedServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, buf, err := hj.Hijack()
		require.NoError(t, err)
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 100\r\nContent-Type: application/json\r\n\r\n{\"masters\":")
		_ = buf.Flush()
	}))
}

func TestFetch_TruncatedBodyFallsBackToCache(t *testing.T) {
	srv := truncatedServer(t)
	defer srv.Close()

	rec := logpkg.NewRecorder()
	cachePath := writeCacheFile(t, t.TempDir(), "CACHED")

	payload, err := newTestGateway(rec).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "p", URL: srv.URL, CachePath: cachePath,
	})
	require.NoError(t, err)
	assert.Equal(t, "CACHED", string(payload.Data))
	assert.True(t, payload.FromCache)

	assert.Len(t, rec.Filter("error", "connection failed"), 1)
	assert.Len(t, rec.Filter("warn", "reverting to cached data"), 1)

	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, "CACHED", string(data), "partial body never reaches the cache")
}

func TestFetch_TruncatedBodyWithoutCache(t *testing.T) {
	srv := truncatedServer(t)
	defer srv.Close()

	cachePath := filepath.Join(t.TempDir(), "p.json")
	_, err := newTestGateway(nil).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "p", URL: srv.URL, CachePath: cachePath,
	})

	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "p", te.PeerID)
	assert.NoFileExists(t, cachePath)
}

func TestFetch_ForceCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("forced cache read must not reach the network")
	}))
	defer srv.Close()

	cachePath := writeCacheFile(t, t.TempDir(), "cached")
	payload, err := newTestGateway(nil).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "example", URL: srv.URL, CachePath: cachePath, ForceCache: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", string(payload.Data))
	assert.True(t, payload.FromCache)
}

func TestFetch_ForceCacheMissing(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "example.json")
	_, err := newTestGateway(nil).Fetch(context.Background(), domain.FetchRequest{
		PeerID: "example", URL: "http://192.0.2.1/", CachePath: cachePath, ForceCache: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoCache)

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.StatusCode)
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestGateway(nil).Fetch(ctx, domain.FetchRequest{PeerID: "example", URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewGateway_Defaults(t *testing.T) {
	g := NewGateway(Options{})
	require.NotNil(t, g.client)
	assert.Equal(t, defaultConnectTimeout+defaultReadTimeout, g.client.Timeout)

	tr, ok := g.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, defaultReadTimeout, tr.ResponseHeaderTimeout)
	assert.NotNil(t, g.logger)

	custom := &http.Client{}
	assert.Same(t, custom, NewGateway(Options{Client: custom}).client)
}
