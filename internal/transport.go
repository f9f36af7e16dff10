package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// NewGitHubClient returns an http.Client which authenticates with the given
// token and issues at most rpm requests per minute. Error responses are
// surfaced as statusErr.
func NewGitHubClient(token string, rpm int) *http.Client {
	if rpm <= 0 {
		rpm = 60
	}
	var rt http.RoundTripper = throttledTransport{
		Limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		RoundTripper: errorProxyTransport{http.DefaultTransport},
	}
	rt = HeaderTransport{
		Key:          "User-Agent",
		Value:        "sponsor-finder",
		RoundTripper: rt,
	}
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "bearer"}),
			Base:   rt,
		}
	}
	return &http.Client{Transport: rt}
}

// throttledTransport rate limits requests.
type throttledTransport struct {
	http.RoundTripper
	*rate.Limiter
}

func (t throttledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	resp, err := t.RoundTripper.RoundTrip(r)

	// Back off for a minute if we hit a secondary rate limit.
	var s statusErr
	if errors.As(err, &s) && s.Status() == http.StatusForbidden {
		slog.Default().Warn("backing off after 403", "limit", t.Limiter.Limit(), "tokens", t.Limiter.Tokens())
		orig := t.Limiter.Limit()
		t.Limiter.SetLimit(rate.Every(time.Hour / 60))          // 1RPM
		t.Limiter.SetLimitAt(time.Now().Add(time.Minute), orig) // Restore
	}

	return resp, err
}

// HeaderTransport adds a header to all requests.
type HeaderTransport struct {
	Key   string
	Value string
	http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t HeaderTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(t.Key, t.Value)
	return t.RoundTripper.RoundTrip(r)
}

// errorProxyTransport returns a statusErr for non-2xx responses so callers
// don't need to inspect bodies of failed requests.
type errorProxyTransport struct {
	http.RoundTripper
}

func (t errorProxyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.RoundTripper.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return nil, errors.Join(statusErr(resp.StatusCode), fmt.Errorf("%s: %s", resp.Status, body))
}
