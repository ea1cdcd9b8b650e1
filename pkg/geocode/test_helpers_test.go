package geocode

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
)

// newRewriteClient creates an HTTP client that rewrites requests to a test server URL.
// All requests matching the target prefix are redirected to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if strings.HasPrefix(origURL, t.targetPrefix) {
		suffix := origURL[len(t.targetPrefix):]
		newURL := t.testServer + suffix
		newReq := req.Clone(req.Context())
		parsed, err := req.URL.Parse(newURL)
		if err != nil {
			return nil, err
		}
		newReq.URL = parsed
		newReq.Host = parsed.Host
		return t.base.RoundTrip(newReq)
	}
	return t.base.RoundTrip(req)
}

// mockSource is a scripted Source that records every call with a timestamp.
type mockSource struct {
	name  string
	match map[string]*Match
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls []time.Time
	keys  []string
}

func newMockSource(name string) *mockSource {
	return &mockSource{name: name, match: make(map[string]*Match)}
}

func (m *mockSource) Name() string { return m.name }

func (m *mockSource) Lookup(ctx context.Context, query string) (*Match, error) {
	m.mu.Lock()
	m.calls = append(m.calls, time.Now())
	m.keys = append(m.keys, query)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	if hit, ok := m.match[query]; ok {
		cp := *hit
		return &cp, nil
	}
	return nil, nil
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockSource) callTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.calls...)
}

// healthSource is a mockSource that also implements HealthChecker.
type healthSource struct {
	*mockSource
	pingErr error
}

func (h *healthSource) Ping(context.Context) error { return h.pingErr }
