package enrich

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; EnrichBot/1.0)"
	maxPageBytes     = 512 * 1024
)

// WebPayload is the web-presence phase payload.
type WebPayload struct {
	Found       bool   `json:"found"`
	URL         string `json:"url,omitempty"`
	FinalURL    string `json:"final_url,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	WordCount   int    `json:"word_count"`
	Blocked     string `json:"blocked,omitempty"`
}

// WebEnricher fetches an entity's website and records basic presence
// signals.
type WebEnricher struct {
	client    *http.Client
	userAgent string
	retry     resilience.RetryPolicy
	markdown  *md.Converter
}

// WebOption configures a WebEnricher.
type WebOption func(*WebEnricher)

// WithWebUserAgent overrides the User-Agent header.
func WithWebUserAgent(ua string) WebOption {
	return func(w *WebEnricher) {
		if ua != "" {
			w.userAgent = ua
		}
	}
}

// WithWebRetry sets the retry policy for page fetches.
func WithWebRetry(p resilience.RetryPolicy) WebOption {
	return func(w *WebEnricher) { w.retry = p }
}

// NewWebEnricher creates a web enricher. A nil client gets a 15s timeout.
func NewWebEnricher(client *http.Client, opts ...WebOption) *WebEnricher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	w := &WebEnricher{
		client:    client,
		userAgent: defaultUserAgent,
		retry:     resilience.DefaultRetryPolicy(),
		markdown:  md.NewConverter("", true, nil),
	}
	w.retry.OnRetry = resilience.LogRetry("web")
	for _, o := range opts {
		o(w)
	}
	return w
}

// Phase implements Enricher.
func (w *WebEnricher) Phase() model.Phase { return model.PhaseWeb }

type page struct {
	finalURL string
	status   int
	header   http.Header
	body     []byte
}

// Enrich implements Enricher. An entity without a website completes with
// Found=false. A page that answers with a 4xx status also completes; only
// transport failures and exhausted 5xx retries fail the unit.
func (w *WebEnricher) Enrich(ctx context.Context, e model.Entity, _ Context) (any, error) {
	target := websiteURL(e.Website)
	if target == "" {
		return WebPayload{Found: false}, nil
	}

	pg, err := resilience.RetryVal(ctx, w.retry, func(ctx context.Context) (*page, error) {
		return w.fetch(ctx, target)
	})
	if err != nil {
		return nil, err
	}

	out := WebPayload{
		URL:        target,
		FinalURL:   pg.finalURL,
		StatusCode: pg.status,
	}
	if block := DetectBlock(pg.status, pg.header, pg.body); block != BlockNone {
		out.Found = true
		out.Blocked = string(block)
		return out, nil
	}
	if pg.status >= 400 {
		return out, nil
	}
	out.Found = true

	out.Title, out.Description = pageMeta(pg.body)
	text, err := w.markdown.ConvertString(string(pg.body))
	if err != nil {
		zap.L().Debug("web: markdown conversion failed", zap.String("url", target), zap.Error(err))
	} else {
		out.WordCount = len(strings.Fields(text))
	}
	return out, nil
}

func (w *WebEnricher) fetch(ctx context.Context, target string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "web: create request")
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "web: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientStatus(resp.StatusCode) && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, resilience.StatusError("web", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "web: read body")
	}
	// 503 is either an outage or a bot wall; only retry the former.
	if resp.StatusCode == http.StatusServiceUnavailable && DetectBlock(resp.StatusCode, resp.Header, body) == BlockNone {
		return nil, resilience.StatusError("web", resp.StatusCode)
	}
	return &page{
		finalURL: resp.Request.URL.String(),
		status:   resp.StatusCode,
		header:   resp.Header,
		body:     body,
	}, nil
}

// websiteURL returns an absolute http(s) URL for a website attribute, or ""
// when it cannot be made into one.
func websiteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}

// pageMeta extracts the document title and meta description.
func pageMeta(body []byte) (title, description string) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.Join(strings.Fields(n.FirstChild.Data), " ")
				}
			case "meta":
				if description == "" {
					description = metaDescription(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title != "" && description != "" {
				return
			}
			walk(c)
		}
	}
	walk(doc)
	return title, description
}

func metaDescription(n *html.Node) string {
	var name, content string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "name", "property":
			name = strings.ToLower(a.Val)
		case "content":
			content = a.Val
		}
	}
	if name == "description" || name == "og:description" {
		return strings.TrimSpace(content)
	}
	return ""
}
