package searx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sony/gobreaker/v2"

	"github.com/cliffyan/searx-front/internal/config"
)

// HTTPDoer is the subset of *http.Client the resolver needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AllFailedError is returned when every configured instance failed. Tried
// keeps the configured order.
type AllFailedError struct {
	Tried  []string
	causes *multierror.Error
}

func (e *AllFailedError) Error() string {
	return "all instances failed: " + strings.Join(e.Tried, ", ")
}

// Unwrap exposes the per-instance causes to errors.Is/As.
func (e *AllFailedError) Unwrap() error {
	return e.causes.ErrorOrNil()
}

// Causes returns one error per attempted instance, in order.
func (e *AllFailedError) Causes() []error {
	if e.causes == nil {
		return nil
	}
	return e.causes.WrappedErrors()
}

// Resolver tries the configured instances one at a time, in order, and
// returns the first valid response. It never queries two instances at once.
type Resolver struct {
	instances        []string
	timeout          time.Duration
	pageZeroFallback bool
	maxBody          int64
	userAgent        string
	client           HTTPDoer
	breakers         map[string]*gobreaker.CircuitBreaker[*Response]
}

// NewResolver creates a resolver for cfg. A nil client gets one built from
// the proxy settings.
func NewResolver(cfg *config.Config, client HTTPDoer) *Resolver {
	if client == nil {
		proxyURL := ""
		if cfg.IsUseProxy() {
			proxyURL = cfg.GetProxyURL()
		}
		client = NewHTTPClient(proxyURL)
	}

	r := &Resolver{
		instances:        append([]string(nil), cfg.Searx.Instances...),
		timeout:          cfg.Searx.Timeout,
		pageZeroFallback: cfg.Searx.PageZeroFallback,
		maxBody:          cfg.Searx.MaxBodyBytes,
		userAgent:        cfg.Searx.UserAgent,
		client:           client,
	}
	if r.timeout <= 0 {
		r.timeout = 8 * time.Second
	}
	if r.maxBody <= 0 {
		r.maxBody = 2 << 20
	}

	if cfg.Searx.Breaker.Enabled {
		r.breakers = make(map[string]*gobreaker.CircuitBreaker[*Response], len(r.instances))
		for _, inst := range r.instances {
			r.breakers[inst] = newBreaker(inst, cfg.Searx.Breaker)
		}
	}

	log.Printf("✅ Resolver ready with %d instance(s)", len(r.instances))
	return r
}

func newBreaker(instance string, cfg config.BreakerConfig) *gobreaker.CircuitBreaker[*Response] {
	maxFailures := cfg.MaxFailures
	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        instance,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("🧯 Breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about the instance.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// Instances returns the configured instances in order.
func (r *Resolver) Instances() []string {
	return append([]string(nil), r.instances...)
}

// Search resolves query/page against the instance list. page is 1-based.
func (r *Resolver) Search(ctx context.Context, query string, page int) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if page < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPage, page)
	}

	failed := &AllFailedError{}
	for _, inst := range r.instances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		failed.Tried = append(failed.Tried, inst)
		resp, err := r.tryInstance(ctx, inst, query, page)
		if err == nil {
			resp.Instance = inst
			SearchesTotal.WithLabelValues("ok").Inc()
			ServedTotal.WithLabelValues(inst).Inc()
			log.Printf("🔍 %s answered %q page %d with %d result(s)", inst, query, page, len(resp.Items))
			return resp, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Printf("⚠️ Instance failed: %s: %v", inst, err)
		failed.causes = multierror.Append(failed.causes, fmt.Errorf("%s: %w", inst, err))
	}

	SearchesTotal.WithLabelValues("failed").Inc()
	log.Printf("❌ %v", failed)
	return nil, failed
}

func (r *Resolver) tryInstance(ctx context.Context, inst, query string, page int) (*Response, error) {
	cb, ok := r.breakers[inst]
	if !ok {
		return r.attempt(ctx, inst, query, page)
	}
	resp, err := cb.Execute(func() (*Response, error) {
		return r.attempt(ctx, inst, query, page)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		AttemptsTotal.WithLabelValues(inst, "primary", "breaker").Inc()
		return nil, fmt.Errorf("skipped: %w", err)
	}
	return resp, err
}
