// Package probe checks whether a posting's source URL still resolves to a
// live listing.
package probe

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/resilience"
)

// Outcome is the verdict of one liveness probe.
type Outcome string

const (
	// Alive means the target answered 2xx.
	Alive Outcome = "alive"
	// Gone means the target confirmed removal (404/410).
	Gone Outcome = "gone"
	// Transient means no verdict: network error, timeout, 408/429/5xx.
	Transient Outcome = "transient"
	// Unknown covers everything else (401/403, unresolved redirects). The
	// record is left as it is.
	Unknown Outcome = "unknown"
)

// Result is the outcome of probing one URL.
type Result struct {
	URL        string
	StatusCode int
	Outcome    Outcome
	Err        error
	Duration   time.Duration
}

// Prober checks liveness of a URL. Implementations must honor ctx.
type Prober interface {
	Probe(ctx context.Context, rawURL string) Result
}

// Classify maps an HTTP status code to an Outcome. Zero means no response.
func Classify(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return Alive
	case code == http.StatusNotFound || code == http.StatusGone:
		return Gone
	case code == 0, resilience.IsTransientHTTPStatus(code):
		return Transient
	default:
		return Unknown
	}
}

// Options configures the HTTP prober.
type Options struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	RatePerHost  float64       `mapstructure:"rate_per_host"`
	Burst        int           `mapstructure:"burst"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	UserAgents   []string      `mapstructure:"user_agents"`

	// Breaker short-circuits hosts that keep failing.
	Breaker resilience.BreakerConfig `mapstructure:"breaker"`
}

// DefaultUserAgents is the rotation used when none are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// HTTPProber probes with HEAD, falling back to GET when HEAD is refused.
type HTTPProber struct {
	client   *http.Client
	opts     Options
	limiters *hostLimiters
	breakers *resilience.Breakers
	uaNext   atomic.Uint64
	log      *zap.Logger
}

// NewHTTPProber creates an HTTPProber with defaults filled in.
func NewHTTPProber(opts Options) *HTTPProber {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerHost == 0 {
		opts.RatePerHost = 2
	}
	if opts.Burst == 0 {
		opts.Burst = 2
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = 10
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = DefaultUserAgents
	}

	maxRedirects := opts.MaxRedirects
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		opts:     opts,
		limiters: newHostLimiters(rate.Limit(opts.RatePerHost), opts.Burst),
		breakers: resilience.NewBreakers(opts.Breaker),
		log:      zap.L().With(zap.String("component", "probe")),
	}
}

// OpenHosts lists hosts currently short-circuited by their breaker.
func (p *HTTPProber) OpenHosts() []string { return p.breakers.Open() }

// Probe issues one liveness check. It never returns an error directly; a
// failed probe is a Transient Result carrying model.ErrProbeTransient.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) Result {
	start := time.Now()
	res := p.probe(ctx, rawURL)
	res.URL = rawURL
	res.Duration = time.Since(start)
	return res
}

func (p *HTTPProber) probe(ctx context.Context, rawURL string) Result {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Result{Outcome: Unknown, Err: eris.Errorf("probe: invalid url %q", rawURL)}
	}

	breaker := p.breakers.Get(u.Host)
	if err := breaker.Allow(); err != nil {
		return transient(0, eris.Wrapf(err, "probe: host %s", u.Host))
	}

	lim := p.limiters.get(u.Host)
	if err := lim.Wait(ctx); err != nil {
		return transient(0, eris.Wrap(err, "probe: rate limiter wait"))
	}

	code, err := p.do(ctx, http.MethodHead, rawURL)
	if err == nil && (code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented) {
		code, err = p.do(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		// A cancelled run says nothing about the host.
		breaker.Record(ctx.Err() == nil)
		p.log.Debug("probe failed", zap.String("url", rawURL), zap.Error(err))
		return transient(0, err)
	}

	outcome := Classify(code)
	breaker.Record(outcome == Transient && code != http.StatusTooManyRequests)

	switch outcome {
	case Alive:
		lim.OnSuccess()
		return Result{StatusCode: code, Outcome: Alive}
	case Gone:
		return Result{StatusCode: code, Outcome: Gone, Err: eris.Wrapf(model.ErrProbeGone, "http %d", code)}
	case Transient:
		if code == http.StatusTooManyRequests {
			lim.OnRateLimit(u.Host)
		}
		return transient(code, eris.Errorf("http %d", code))
	default:
		return Result{StatusCode: code, Outcome: Unknown}
	}
}

func (p *HTTPProber) do(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "probe: create request")
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, eris.Wrapf(err, "probe: %s", method)
	}
	defer resp.Body.Close() //nolint:errcheck
	if method == http.MethodGet {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	}
	return resp.StatusCode, nil
}

func (p *HTTPProber) setHeaders(req *http.Request) {
	n := p.uaNext.Add(1) - 1
	req.Header.Set("User-Agent", p.opts.UserAgents[n%uint64(len(p.opts.UserAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

func transient(code int, cause error) Result {
	return Result{
		StatusCode: code,
		Outcome:    Transient,
		Err:        eris.Wrap(model.ErrProbeTransient, cause.Error()),
	}
}
