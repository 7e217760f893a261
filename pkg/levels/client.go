// Package levels fetches comparable-role and compensation data from the
// levels.fyi style API.
package levels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/research-worker/internal/resilience"
)

const defaultBaseURL = "https://api.levels.fyi"

// Client performs lookups against the compensation data API.
type Client interface {
	// CompanyPage resolves a company to its public page. found is false
	// when the provider has never heard of the company.
	CompanyPage(ctx context.Context, companyName string) (*CompanyPage, bool, error)
	// RoleComp fetches compensation samples for a role at a company.
	RoleComp(ctx context.Context, companySlug, role string) (*RoleComp, bool, error)
}

// CompanyPage describes a company's presence on the provider.
type CompanyPage struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	KnownLevels []string `json:"known_levels"`
}

// RoleComp aggregates compensation samples for one role.
type RoleComp struct {
	Role     string       `json:"role"`
	Currency string       `json:"currency"`
	Samples  []CompSample `json:"samples"`
	AsOf     time.Time    `json:"as_of"`
}

// CompSample is a single reported compensation data point.
type CompSample struct {
	Level     string  `json:"level"`
	Base      float64 `json:"base"`
	Total     float64 `json:"total"`
	Location  string  `json:"location,omitempty"`
	YearsDate string  `json:"years_date,omitempty"`
}

// Averages computes mean base and total across samples.
func (rc *RoleComp) Averages() (base, total float64) {
	if len(rc.Samples) == 0 {
		return 0, 0
	}
	for _, s := range rc.Samples {
		base += s.Base
		total += s.Total
	}
	n := float64(len(rc.Samples))
	return base / n, total / n
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the request rate limit.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a compensation data client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) CompanyPage(ctx context.Context, companyName string) (*CompanyPage, bool, error) {
	var page CompanyPage
	found, err := c.getJSON(ctx, "/api/companies/search?name="+url.QueryEscape(companyName), &page)
	if err != nil || !found {
		return nil, false, err
	}
	return &page, true, nil
}

func (c *httpClient) RoleComp(ctx context.Context, companySlug, role string) (*RoleComp, bool, error) {
	var comp RoleComp
	path := "/api/companies/" + url.PathEscape(companySlug) + "/roles/" + url.PathEscape(role) + "/comp"
	found, err := c.getJSON(ctx, path, &comp)
	if err != nil || !found {
		return nil, false, err
	}
	return &comp, true, nil
}

// getJSON performs a rate-limited GET. A 404 reports found=false rather
// than an error; retryable statuses come back wrapped as transient.
func (c *httpClient) getJSON(ctx context.Context, path string, out any) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, eris.Wrap(err, "levels: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, eris.Wrap(err, "levels: create request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, eris.Wrap(err, "levels: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, eris.Wrap(err, "levels: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return false, resilience.NewTransientError(
			eris.Errorf("levels: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, eris.Errorf("levels: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, eris.Wrap(err, "levels: unmarshal response")
	}
	return true, nil
}
