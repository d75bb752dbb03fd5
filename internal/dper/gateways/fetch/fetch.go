package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	logpkg "github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/domain"
)

// Error message constants for consistent error handling
const (
	errBuildRequest = "build request for %s: %w"
	errReadBody     = "read body from %s: %w"
	errReadCache    = "read cache %s: %w"
	errWriteCache   = "write cache %s: %w"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second
	userAgent             = "dper/1"
)

// Gateway retrieves dynamic descriptors over HTTP. When a cache path is given, the
// cache file holds the last good payload and its modification time is sent back as
// If-Modified-Since on the next run.
type Gateway struct {
	client *http.Client
	logger logpkg.Logger
}

// Options configures a Gateway. Zero values select the defaults.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Logger         logpkg.Logger

	// Client replaces the HTTP client entirely; used in tests.
	Client *http.Client
}

// NewGateway builds a Gateway with a connect/read timeout pair.
func NewGateway(opts Options) *Gateway {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNoopLogger()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
				TLSHandshakeTimeout:   opts.ConnectTimeout,
				ResponseHeaderTimeout: opts.ReadTimeout,
			},
			Timeout: opts.ConnectTimeout + opts.ReadTimeout,
		}
	}
	return &Gateway{client: client, logger: opts.Logger}
}

// Fetch returns the peer's raw descriptor.
//
// Without a cache path the GET is unconditional and any non-2xx status fails.
// With a cache path:
//   - ForceCache reads the cache file without touching the network
//   - a 304 reply reads the cache file, which is left untouched
//   - a 2xx reply replaces the cache file, refreshing its mtime
//   - a transport failure falls back to the cache file when one exists
func (g *Gateway) Fetch(ctx context.Context, req domain.FetchRequest) (domain.Payload, error) {
	if req.CachePath == "" {
		return g.fetchUncached(ctx, req)
	}

	modified, cached := cacheModTime(req.CachePath)

	if req.ForceCache {
		g.logger.Debug(map[string]any{"peer": req.PeerID, "cache": req.CachePath}, "using cached data (forced)")
		return g.readCache(req)
	}

	resp, err := g.get(ctx, req.URL, modified, cached)
	if err != nil {
		var terr *domain.TransportError
		if !errors.As(err, &terr) {
			return domain.Payload{}, err
		}
		return g.fallback(req, terr, cached)
	}
	defer resp.Body.Close()

	g.logger.Debug(map[string]any{"peer": req.PeerID, "url": req.URL, "status": resp.StatusCode}, "GET completed")

	if resp.StatusCode == http.StatusNotModified {
		g.logger.Debug(map[string]any{"peer": req.PeerID, "since": modified}, "not modified, using cache")
		payload, err := g.readCache(req)
		payload.StatusCode = resp.StatusCode
		return payload, err
	}
	if !success(resp.StatusCode) {
		return domain.Payload{}, &domain.FetchError{PeerID: req.PeerID, URL: req.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// the connection died mid-body; treated like a failed connect
		return g.fallback(req, &domain.TransportError{URL: req.URL, Err: fmt.Errorf(errReadBody, req.URL, err)}, cached)
	}
	if err := writeCache(req.CachePath, body); err != nil {
		return domain.Payload{}, err
	}
	g.logger.Debug(map[string]any{"peer": req.PeerID, "cache": req.CachePath, "bytes": len(body)}, "cache updated")

	return domain.Payload{Data: body, StatusCode: resp.StatusCode}, nil
}

// fallback handles a transport failure on a cached peer: the cache file is used
// when it exists, otherwise terr is returned.
func (g *Gateway) fallback(req domain.FetchRequest, terr *domain.TransportError, cached bool) (domain.Payload, error) {
	terr.PeerID = req.PeerID
	g.logger.Error(map[string]any{"peer": req.PeerID, "url": req.URL, "error": terr.Err.Error()}, "connection failed")
	if !cached {
		return domain.Payload{}, terr
	}
	g.logger.Warn(map[string]any{"peer": req.PeerID, "cache": req.CachePath}, "reverting to cached data")
	return g.readCache(req)
}

func (g *Gateway) fetchUncached(ctx context.Context, req domain.FetchRequest) (domain.Payload, error) {
	resp, err := g.get(ctx, req.URL, time.Time{}, false)
	if err != nil {
		var terr *domain.TransportError
		if errors.As(err, &terr) {
			terr.PeerID = req.PeerID
		}
		return domain.Payload{}, err
	}
	defer resp.Body.Close()

	g.logger.Debug(map[string]any{"peer": req.PeerID, "url": req.URL, "status": resp.StatusCode}, "GET completed")

	if !success(resp.StatusCode) {
		return domain.Payload{}, &domain.FetchError{PeerID: req.PeerID, URL: req.URL, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Payload{}, &domain.TransportError{PeerID: req.PeerID, URL: req.URL, Err: fmt.Errorf(errReadBody, req.URL, err)}
	}
	return domain.Payload{Data: body, StatusCode: resp.StatusCode}, nil
}

// get issues the GET, adding If-Modified-Since when conditional is set.
// Connection-level failures are returned as *domain.TransportError.
func (g *Gateway) get(ctx context.Context, url string, modified time.Time, conditional bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf(errBuildRequest, url, err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if conditional {
		httpReq.Header.Set("If-Modified-Since", modified.UTC().Format(http.TimeFormat))
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &domain.TransportError{URL: url, Err: err}
	}
	return resp, nil
}

func (g *Gateway) readCache(req domain.FetchRequest) (domain.Payload, error) {
	data, err := os.ReadFile(req.CachePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Payload{}, &domain.FetchError{
				PeerID: req.PeerID,
				URL:    req.URL,
				Err:    fmt.Errorf("%w: %s", domain.ErrNoCache, req.CachePath),
			}
		}
		return domain.Payload{}, fmt.Errorf(errReadCache, req.CachePath, err)
	}
	return domain.Payload{Data: data, FromCache: true}, nil
}

// cacheModTime returns the cache file's mtime, or false when it does not exist.
func cacheModTime(path string) (time.Time, bool) {
	st, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return st.ModTime(), true
}

// writeCache replaces the cache file through a temporary file in the same directory
// so an interrupted write never leaves a truncated cache behind.
func writeCache(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf(errWriteCache, path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf(errWriteCache, path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf(errWriteCache, path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf(errWriteCache, path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf(errWriteCache, path, err)
	}
	return nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}
