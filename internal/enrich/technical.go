package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

// DefaultGitHubURL is the public GitHub REST API.
const DefaultGitHubURL = "https://api.github.com"

// TechnicalPayload is the code-repository phase payload.
type TechnicalPayload struct {
	Found        bool     `json:"found"`
	Organization string   `json:"organization,omitempty"`
	PublicRepos  int      `json:"public_repos"`
	Stars        int      `json:"stars"`
	Forks        int      `json:"forks"`
	Languages    []string `json:"languages,omitempty"`
	LastPush     string   `json:"last_push,omitempty"`
}

type ghSearch struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"items"`
}

type ghRepo struct {
	Name            string `json:"name"`
	Fork            bool   `json:"fork"`
	StargazersCount int    `json:"stargazers_count"`
	ForksCount      int    `json:"forks_count"`
	Language        string `json:"language"`
	PushedAt        string `json:"pushed_at"`
}

// TechnicalEnricher looks up an entity's GitHub organization and
// aggregates its public repositories.
type TechnicalEnricher struct {
	client  *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
	retry   resilience.RetryPolicy
}

// NewTechnicalEnricher creates a GitHub-backed enricher. qps <= 0 means
// unlimited. The token is optional but unauthenticated search is limited to
// a handful of requests per minute.
func NewTechnicalEnricher(baseURL, token string, qps float64, client *http.Client) *TechnicalEnricher {
	if baseURL == "" {
		baseURL = DefaultGitHubURL
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if qps > 0 {
		lim = rate.NewLimiter(rate.Limit(qps), 1)
	}
	retry := resilience.DefaultRetryPolicy()
	retry.OnRetry = resilience.LogRetry("github")
	return &TechnicalEnricher{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		limiter: lim,
		retry:   retry,
	}
}

// Phase implements Enricher.
func (t *TechnicalEnricher) Phase() model.Phase { return model.PhaseTechnical }

// Enrich implements Enricher.
func (t *TechnicalEnricher) Enrich(ctx context.Context, e model.Entity, _ Context) (any, error) {
	query := orgQuery(e)
	if query == "" {
		return TechnicalPayload{Found: false}, nil
	}

	var search ghSearch
	params := url.Values{"q": {query + " type:org"}, "per_page": {"1"}}
	found, err := t.get(ctx, "/search/users?"+params.Encode(), &search)
	if err != nil {
		return nil, err
	}
	if !found || len(search.Items) == 0 {
		return TechnicalPayload{Found: false}, nil
	}
	org := search.Items[0].Login

	var repos []ghRepo
	path := "/orgs/" + url.PathEscape(org) + "/repos?" + url.Values{
		"per_page": {"100"},
		"sort":     {"pushed"},
		"type":     {"public"},
	}.Encode()
	if found, err = t.get(ctx, path, &repos); err != nil {
		return nil, err
	}
	if !found {
		return TechnicalPayload{Found: false}, nil
	}
	return summarizeRepos(org, repos), nil
}

func summarizeRepos(org string, repos []ghRepo) TechnicalPayload {
	out := TechnicalPayload{Found: true, Organization: org}
	langs := make(map[string]int)
	for _, r := range repos {
		if r.Fork {
			continue
		}
		out.PublicRepos++
		out.Stars += r.StargazersCount
		out.Forks += r.ForksCount
		if r.Language != "" {
			langs[r.Language]++
		}
		if r.PushedAt > out.LastPush {
			out.LastPush = r.PushedAt
		}
	}
	for l := range langs {
		out.Languages = append(out.Languages, l)
	}
	sort.Slice(out.Languages, func(i, j int) bool {
		a, b := out.Languages[i], out.Languages[j]
		if langs[a] != langs[b] {
			return langs[a] > langs[b]
		}
		return a < b
	})
	if len(out.Languages) > 5 {
		out.Languages = out.Languages[:5]
	}
	return out
}

// orgQuery derives the organization search term: the website's registrable
// label when present, else the entity name.
func orgQuery(e model.Entity) string {
	if u := websiteURL(e.Website); u != "" {
		if parsed, err := url.Parse(u); err == nil {
			host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
			if label, _, ok := strings.Cut(host, "."); ok && label != "" {
				return label
			}
		}
	}
	return strings.TrimSpace(e.Name)
}

// get performs a rate-limited, retried GET and decodes the JSON body into v.
// It returns false on 404.
func (t *TechnicalEnricher) get(ctx context.Context, path string, v any) (bool, error) {
	return resilience.RetryVal(ctx, t.retry, func(ctx context.Context) (bool, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return false, eris.Wrap(err, "github: rate limit wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
		if err != nil {
			return false, eris.Wrap(err, "github: create request")
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if t.token != "" {
			req.Header.Set("Authorization", "Bearer "+t.token)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return false, eris.Wrap(err, "github: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		case rateLimited(resp):
			return false, resilience.NewTransientError(
				eris.Errorf("github: rate limited (status %d)", resp.StatusCode), resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return false, resilience.StatusError("github", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return false, eris.Wrap(err, "github: decode response")
		}
		return true, nil
	})
}

// rateLimited reports a primary or secondary GitHub rate-limit response.
func rateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	if resp.Header.Get("Retry-After") != "" {
		return true
	}
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	return err == nil && remaining == 0
}
