package remote

import (
	"context"
	"net/http"
	"time"
)

// Prober answers whether the backend is reachable right now.
type Prober interface {
	Online(ctx context.Context) bool
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) bool

// Online calls f.
func (f ProbeFunc) Online(ctx context.Context) bool { return f(ctx) }

// Always is a Prober that reports the given answer.
func Always(online bool) Prober {
	return ProbeFunc(func(context.Context) bool { return online })
}

// HTTPProbe reports online when a HEAD request to URL gets any HTTP
// response. Status codes are ignored: a 404 still proves the network
// path works.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPProbe creates a probe against the backend root.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{CheckRedirect: sameHostRedirectPolicy},
	}
}

// Online implements Prober.
func (p *HTTPProbe) Online(ctx context.Context) bool {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)

		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}

	resp.Body.Close()

	return true
}
