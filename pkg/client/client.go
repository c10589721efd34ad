package client

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/version"
)

const (
	defaultConnectTimeout = 5 * time.Second
)

// HTTPClient is the subset of *http.Client used by the downloader.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = &http.Client{}

// Options configures the HTTP client.
type Options struct {
	ForceHTTP2     bool
	ConnectTimeout time.Duration
	// ResolveOverrides maps host:port to ip:port, bypassing DNS for the dial
	// without changing the Host header or TLS server name.
	ResolveOverrides map[string]string
}

type UserAgentTransport struct {
	Transport http.RoundTripper
}

func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", UserAgent())
	return t.Transport.RoundTrip(req)
}

func UserAgent() string {
	return fmt.Sprintf("rget/%s", version.GetVersion())
}

// NewHTTPClient returns an http.Client that does not retry. Each request is
// exactly one transfer attempt.
func NewHTTPClient(opts Options) *http.Client {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	baseTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: transportDialContext(&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}, opts.ResolveOverrides),
		ForceAttemptHTTP2:     opts.ForceHTTP2,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Content-Length must describe the bytes we write to disk.
		DisableCompression: true,
	}

	return &http.Client{
		Transport:     &UserAgentTransport{Transport: baseTransport},
		CheckRedirect: checkRedirectFunc,
	}
}

// Backoff returns a retryablehttp.Backoff that adds up to jitter of random
// delay on top of retryablehttp.DefaultBackoff, so retries from many
// processes do not line up.
func Backoff(jitter time.Duration) retryablehttp.Backoff {
	return func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		sleep := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		if jitter > 0 {
			sleep += time.Duration(rand.Int63n(int64(jitter)))
		}
		return sleep
	}
}

// IsRecoverable reports whether a request that failed with err before any
// response arrived is worth another attempt. Cancellation, redirect loops,
// unsupported schemes and certificate failures are not.
func IsRecoverable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	retry, _ := retryablehttp.DefaultRetryPolicy(ctx, nil, err)
	return retry
}

// checkRedirectFunc is a wrapper around http.Client.CheckRedirect that allows for printing out redirects
func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	logger := logging.GetLogger()
	logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String()).
		Int("status", req.Response.StatusCode).
		Msg("Redirect")
	return nil
}

// transportDialContext is a wrapper around net.Dialer that allows for overriding DNS lookups via the values passed to
// `--resolve` argument.
func transportDialContext(dialer *net.Dialer, overrides map[string]string) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if addrOverride := overrides[addr]; addrOverride != "" {
			logger := logging.GetLogger()
			logger.Debug().Str("addr", addr).Str("override", addrOverride).Msg("DNS Override")
			addr = addrOverride
		}
		return dialer.DialContext(ctx, network, addr)
	}
}
