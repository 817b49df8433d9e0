package searx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StatusError reports a non-2xx answer from an instance.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// NewHTTPClient builds the client used for instance requests. Timeouts are
// applied per attempt through the request context, not here.
func NewHTTPClient(proxyURL string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if proxy, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}
}

// BuildURL returns {instance}/search?q=…&format=json&pageno=… . pageno is
// clamped at zero.
func BuildURL(instance, query string, pageno int) (string, error) {
	base, err := url.Parse(strings.TrimRight(instance, "/") + "/search")
	if err != nil {
		return "", fmt.Errorf("build URL for %q: %w", instance, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("build URL for %q: unsupported scheme %q", instance, base.Scheme)
	}
	if base.Host == "" {
		return "", fmt.Errorf("build URL for %q: missing host", instance)
	}

	q := base.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", strconv.Itoa(max(0, pageno)))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// fetch performs one GET bounded by timeout and parses the body.
func (r *Resolver) fetch(ctx context.Context, target string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout after %s: %w", r.timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout after %s: %w", r.timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("read body failed: %w", err)
	}

	return Parse(body)
}

// attempt tries a single instance: the primary page, then pageno=0 once when
// the primary answered with a non-success status.
func (r *Resolver) attempt(ctx context.Context, instance, query string, page int) (*Response, error) {
	pageno := page - 1

	start := time.Now()
	resp, err := r.fetchPage(ctx, instance, query, pageno)
	observe(instance, "primary", start, err)
	if err == nil {
		return resp, nil
	}

	var statusErr *StatusError
	if !r.pageZeroFallback || pageno == 0 || !errors.As(err, &statusErr) {
		return nil, err
	}

	log.Printf("🔁 %s answered %v for pageno=%d, retrying with pageno=0", instance, err, pageno)
	start = time.Now()
	resp, fallbackErr := r.fetchPage(ctx, instance, query, 0)
	observe(instance, "page_zero", start, fallbackErr)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%v; pageno=0 fallback: %w", err, fallbackErr)
	}
	return resp, nil
}

func (r *Resolver) fetchPage(ctx context.Context, instance, query string, pageno int) (*Response, error) {
	target, err := BuildURL(instance, query, pageno)
	if err != nil {
		return nil, err
	}
	resp, err := r.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	resp.Pageno = pageno
	return resp, nil
}
