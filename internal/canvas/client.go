// Package canvas fetches course data from the Canvas LMS REST API and the
// public exam schedule, and maps it onto exchange-schema records.
package canvas

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	appLog "notiflow/internal/log"
)

const DefaultBaseURL = "https://canvas.ubc.ca/"

// ErrUnauthorized is returned when Canvas rejects the token.
var ErrUnauthorized = errors.New("canvas: unauthorized")

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Location converts due dates; defaults to time.Local.
	Location *time.Location
	// FinalExamURL is the exam schedule endpoint; empty disables finals.
	FinalExamURL string
	// CacheDir keeps the last good exam schedule pages.
	CacheDir string
	Now      func() time.Time
}

type Client struct {
	base  *url.URL
	http  *http.Client
	loc   *time.Location
	now   func() time.Time
	exams *pageFetcher
	// examURL is empty when finals are disabled.
	examURL string
}

func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("canvas: missing API token")
	}
	base, err := url.Parse(cmp.Or(opts.BaseURL, DefaultBaseURL))
	if err != nil {
		return nil, fmt.Errorf("canvas: base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	plain := &http.Client{Timeout: opts.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, plain)
	authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"}))
	authed.Timeout = opts.Timeout

	return &Client{
		base:    base,
		http:    authed,
		loc:     opts.Location,
		now:     opts.Now,
		exams:   newPageFetcher(plain, opts.CacheDir),
		examURL: opts.FinalExamURL,
	}, nil
}

var nextLink = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="next"`)

// getAll follows Canvas pagination (Link: <...>; rel="next") and decodes
// every page, which must be a JSON array, into out.
func getAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()
	next := u.String()

	var out []T
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		page, err := decodePage[T](resp)
		if err != nil {
			return nil, fmt.Errorf("canvas %s: %w", path, err)
		}
		out = append(out, page...)

		next = ""
		if m := nextLink.FindStringSubmatch(resp.Header.Get("Link")); m != nil {
			next = m[1]
		}
	}
	appLog.Debug("canvas fetch completed", "path", path, "items", len(out))
	return out, nil
}

func decodePage[T any](resp *http.Response) ([]T, error) {
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var page []T
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}
	return page, nil
}
