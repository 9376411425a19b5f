package tableau

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"golang.org/x/time/rate"
)

// TransportConfig tunes timeouts, retries and pacing. Zero values take the
// defaults below.
type TransportConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// TotalRetries is the number of retries after the first attempt.
	TotalRetries  int
	BackoffFactor time.Duration
	MaxBackoff    time.Duration
	// RequestsPerSecond paces outgoing requests when > 0.
	RequestsPerSecond float64
	Debug             bool
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultTotalRetries   = 3
	defaultBackoffFactor  = 500 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Minute
)

var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends requests with retry, backoff and optional pacing. It is
// shared by every call a Client makes.
type Transport struct {
	httpClient    *http.Client
	readTimeout   time.Duration
	totalRetries  int
	backoffFactor time.Duration
	maxBackoff    time.Duration
	limiter       *rate.Limiter
	debug         bool
	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.TotalRetries < 0 {
		cfg.TotalRetries = 0
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = defaultBackoffFactor
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	rt := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	t := &Transport{
		httpClient:    &http.Client{Transport: rt},
		readTimeout:   cfg.ReadTimeout,
		totalRetries:  cfg.TotalRetries,
		backoffFactor: cfg.BackoffFactor,
		maxBackoff:    cfg.MaxBackoff,
		debug:         cfg.Debug,
		sleep:         sleepWithContext,
	}
	if cfg.RequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return t
}

// Do sends the request, retrying on 429/500/502/503/504 and on connection
// failures. Every method is retried, POST included.
func (t *Transport) Do(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	attempts := t.totalRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		resp, wait, err := t.once(ctx, method, url, body, header, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if wait < 0 || attempt == attempts {
			break
		}
		if wait == 0 {
			wait = t.backoff(attempt)
		}
		if t.debug {
			tl.Log(tl.Debug, palette.YellowDim, "Retrying %s %s in %s (attempt %d/%d): %s", method, url, wait, attempt+1, attempts, err)
		}
		if err := t.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// once performs a single attempt. wait < 0 means the failure is final,
// wait > 0 is a server supplied Retry-After, 0 means use the backoff.
func (t *Transport) once(ctx context.Context, method, url string, body []byte, header http.Header, attempt int) (*Response, time.Duration, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	// The header wait is bounded by ResponseHeaderTimeout. The body read
	// is bounded by an idle timer that cancels the attempt.
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var stalled atomic.Bool

	req, err := http.NewRequestWithContext(attemptCtx, method, url, rdr)
	if err != nil {
		return nil, -1, fmt.Errorf("build request: %w", err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if t.debug {
		tl.Log(tl.Debug, palette.CyanDim, "%s %s (attempt %d)", method, url, attempt)
	}
	apiErr := &APIError{Method: method, Endpoint: url, Attempts: attempt}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		apiErr.Err = err
		if isTimeout(err) {
			return nil, 0, &TimeoutError{APIError: apiErr}
		}
		return nil, 0, &ConnectionError{APIError: apiErr}
	}
	defer resp.Body.Close()

	timer := time.AfterFunc(t.readTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer timer.Stop()
	data, err := io.ReadAll(&idleReader{r: resp.Body, timer: timer, idle: t.readTimeout})
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		if stalled.Load() {
			apiErr.Err = fmt.Errorf("read body: no data for %s: %w", t.readTimeout, context.DeadlineExceeded)
			return nil, 0, &TimeoutError{APIError: apiErr}
		}
		apiErr.Err = fmt.Errorf("read body: %w", err)
		if isTimeout(err) {
			return nil, 0, &TimeoutError{APIError: apiErr}
		}
		return nil, 0, &ConnectionError{APIError: apiErr}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, 0, nil
	}

	apiErr.Err = fmt.Errorf("status %s", resp.Status)
	httpErr := &HTTPError{APIError: apiErr, StatusCode: resp.StatusCode, Body: string(data)}
	if !retryStatuses[resp.StatusCode] {
		return nil, -1, httpErr
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := parseRetryAfterSeconds(ra); err == nil && secs > 0 {
			return nil, time.Duration(secs) * time.Second, httpErr
		}
	}
	return nil, 0, httpErr
}

// idleReader pushes the read deadline forward whenever data arrives.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 {
		i.timer.Reset(i.idle)
	}
	return n, err
}

// backoff returns factor * 2^(attempt-1), capped at maxBackoff.
func (t *Transport) backoff(attempt int) time.Duration {
	d := t.backoffFactor
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= t.maxBackoff {
			return t.maxBackoff
		}
	}
	if d > t.maxBackoff {
		return t.maxBackoff
	}
	return d
}

func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// parseRetryAfterSeconds reads Retry-After as seconds or an HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
