package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"execagenda/internal/fsutil"
	appLog "execagenda/internal/log"
)

// maxBodyBytes bounds a downloaded calendar.
const maxBodyBytes = 32 << 20

// FetchResult is the payload of one import source.
type FetchResult struct {
	Source    string
	Body      []byte
	FromCache bool // true when a cached body was reused (304 or fetch failure)
}

// cacheEntry holds HTTP validators for one URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher loads calendars to import. http(s) sources are fetched with
// conditional requests against an on-disk cache; anything else is read as a
// local file.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher stores per-URL caches under cacheDir; empty disables caching.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// Fetch returns the calendar behind source, a URL or a file path.
func (f *Fetcher) Fetch(ctx context.Context, source string) (FetchResult, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return FetchResult{}, errors.New("import source is empty")
	}
	if !isRemote(source) {
		body, err := os.ReadFile(source)
		if err != nil {
			return FetchResult{}, fmt.Errorf("read %s: %w", source, err)
		}
		return FetchResult{Source: source, Body: body}, nil
	}
	return f.fetchURL(ctx, source)
}

func isRemote(source string) bool {
	u, err := url.Parse(source)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (f *Fetcher) fetchURL(ctx context.Context, src string) (FetchResult, error) {
	cachePath := f.cachePathForURL(src)
	var meta cacheEntry
	var cachedBody []byte
	if cachePath != "" {
		meta, _ = loadCacheMeta(cachePath)
		cachedBody, _ = os.ReadFile(filepath.Join(cachePath, "body.ics"))
	}
	fromCache := func(reason string, err error) (FetchResult, error) {
		if len(cachedBody) == 0 {
			return FetchResult{}, err
		}
		appLog.Error("ics fetch failed, using cached body", err, "url", redactURL(src), "reason", reason)
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar")
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics fetch start", "url", redactURL(src))

	resp, err := f.client.Do(req)
	if err != nil {
		return fromCache("network", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fromCache("read", err)
		}
		if cachePath != "" {
			entry := cacheEntry{
				URL:          src,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(cachePath, entry, body); err != nil {
				appLog.Error("ics cache save failed", err, "url", redactURL(src))
			}
		}
		appLog.Info("ics fetch success", "url", redactURL(src), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "url", redactURL(src))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		return fromCache("status", fmt.Errorf("fetch %s: %s", redactURL(src), resp.Status))
	}
}

// cachePathForURL keys the cache by the first 8 bytes of the URL's SHA-256.
func (f *Fetcher) cachePathForURL(u string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := fsutil.WriteFileAtomic(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host; calendar URLs often embed secrets in the
// path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
