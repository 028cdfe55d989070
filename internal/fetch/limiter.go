package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Waiter blocks the caller until the target host may be contacted again.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// nopWaiter never blocks. Used when no limiter is configured and in tests.
type nopWaiter struct{}

func (nopWaiter) Wait(context.Context, string) error { return nil }

// NopWaiter returns a Waiter that never blocks.
func NopWaiter() Waiter { return nopWaiter{} }

// Limiter spaces out requests per remote host. Each host gets its own token
// bucket; the map is guarded by a mutex so two concurrent callers can never
// both observe a stale interval and proceed together.
type Limiter struct {
	mu              sync.Mutex
	hosts           map[string]*rate.Limiter
	providerEvery   time.Duration
	defaultEvery    time.Duration
	providerDomains map[string]struct{}
}

// NewLimiter builds a per-host limiter. providerEvery applies to the primary
// provider's hosts, defaultEvery to everything else.
func NewLimiter(providerEvery, defaultEvery time.Duration) *Limiter {
	if providerEvery < 0 {
		providerEvery = 0
	}
	if defaultEvery < 0 {
		defaultEvery = 0
	}
	return &Limiter{
		hosts:         make(map[string]*rate.Limiter),
		providerEvery: providerEvery,
		defaultEvery:  defaultEvery,
		providerDomains: map[string]struct{}{
			"ici.radio-canada.ca":      {},
			"www.ici.radio-canada.ca":  {},
			"radio-canada.ca":          {},
			"www.radio-canada.ca":      {},
			"services.radio-canada.ca": {},
		},
	}
}

// Wait blocks until the host of rawURL may be contacted, then records the
// request. Unparseable URLs pass through without limiting.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostnameOf(rawURL)
	if host == "" {
		return nil
	}
	return l.limiterFor(host).Wait(ctx)
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.hosts[host]; ok {
		return lim
	}

	every := l.defaultEvery
	if _, ok := l.providerDomains[host]; ok {
		every = l.providerEvery
	}

	var lim *rate.Limiter
	if every <= 0 {
		lim = rate.NewLimiter(rate.Inf, 1)
	} else {
		lim = rate.NewLimiter(rate.Every(every), 1)
	}
	l.hosts[host] = lim
	return lim
}

func hostnameOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
