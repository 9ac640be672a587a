package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	C "github.com/AlwaysKaffa/ratioghost/constant"
)

// Headers that describe the client→proxy hop rather than the announce
// itself; they must not travel upstream.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder issues the rewritten announce to the real tracker with a bounded
// connect+read timeout, one attempt per request.
type Forwarder struct {
	client *http.Client
}

func NewForwarder(timeout time.Duration) *Forwarder {
	if timeout == 0 {
		timeout = C.UpstreamTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	return &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ResponseHeaderTimeout: timeout,
				// The relay must be byte-for-byte; let the tracker's bytes
				// through without transparent decompression.
				DisableCompression: true,
			},
			CheckRedirect: func(request *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: timeout,
		},
	}
}

// Forward sends a GET to the tracker named by the intercepted absolute URI,
// with the rewritten query string in place of the original.
func (f *Forwarder) Forward(ctx context.Context, inbound *http.Request, target *url.URL, rawQuery string) (*http.Response, error) {
	outgoingURL := *target
	outgoingURL.RawQuery = rawQuery
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, outgoingURL.String(), nil)
	if err != nil {
		return nil, &upstreamError{kind: ErrUpstreamUnreachable, cause: err}
	}
	for name, values := range inbound.Header {
		request.Header[name] = values
	}
	for _, name := range hopHeaders {
		request.Header.Del(name)
	}
	response, err := f.client.Do(request)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return response, nil
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &upstreamError{kind: ErrCancelled, cause: ctx.Err()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &upstreamError{kind: ErrUpstreamTimeout, cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &upstreamError{kind: ErrUpstreamTimeout, cause: err}
	}
	return &upstreamError{kind: ErrUpstreamUnreachable, cause: err}
}
