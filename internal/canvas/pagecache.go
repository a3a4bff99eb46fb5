package canvas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	appLog "notiflow/internal/log"
)

const examUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// pageFetcher GETs public pages with conditional requests and keeps the
// last good body on disk, so a flaky upstream does not wipe a category.
type pageFetcher struct {
	client   *http.Client
	cacheDir string // empty disables the disk cache
}

type pageMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type page struct {
	Body      []byte
	FromCache bool
}

func newPageFetcher(client *http.Client, cacheDir string) *pageFetcher {
	return &pageFetcher{client: client, cacheDir: cacheDir}
}

func (f *pageFetcher) fetch(ctx context.Context, rawURL string) (page, error) {
	dir := f.dirFor(rawURL)
	var (
		meta   pageMeta
		cached []byte
	)
	if dir != "" {
		meta, _ = loadPageMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, "body"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return page{}, err
	}
	req.Header.Set("User-Agent", examUserAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("page fetch network error, using cached body", err, "url", redactURL(rawURL))
			return page{Body: cached, FromCache: true}, nil
		}
		return page{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return page{}, err
		}
		if dir != "" {
			newMeta := pageMeta{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := savePage(dir, newMeta, body); err != nil {
				appLog.Error("page cache save failed", err, "url", redactURL(rawURL))
			}
		}
		return page{Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return page{}, errors.New("received 304 Not Modified but no cached body available")
		}
		return page{Body: cached, FromCache: true}, nil

	default:
		if len(cached) > 0 {
			appLog.Error("page fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(rawURL))
			return page{Body: cached, FromCache: true}, nil
		}
		return page{}, fmt.Errorf("GET %s: %s", redactURL(rawURL), resp.Status)
	}
}

func (f *pageFetcher) dirFor(rawURL string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadPageMeta(dir string) (pageMeta, error) {
	var meta pageMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func savePage(dir string, meta pageMeta, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only.
func redactURL(u string) string {
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "...(redacted)"
	}
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + "/...(redacted)"
}
