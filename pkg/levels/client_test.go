package levels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-worker/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000))
}

func TestCompanyPage(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		var gotAuth, gotQuery string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotQuery = r.URL.Query().Get("name")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"slug": "acme-corp",
				"name": "Acme Corp",
				"url": "https://levels.example/acme-corp",
				"known_levels": ["Software Engineer", "Senior Software Engineer"]
			}`))
		})

		page, found, err := c.CompanyPage(ctx, "Acme & Co")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "acme-corp", page.Slug)
		assert.Len(t, page.KnownLevels, 2)
		assert.Equal(t, "Bearer test-key", gotAuth)
		assert.Equal(t, "Acme & Co", gotQuery)
	})

	t.Run("unknown company is not an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})

		page, found, err := c.CompanyPage(ctx, "Stealth Startup")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, page)
	})

	t.Run("server errors are transient", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream broke", http.StatusBadGateway)
		})

		_, _, err := c.CompanyPage(ctx, "Acme")
		require.Error(t, err)
		assert.True(t, resilience.IsTransient(err))
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad request", http.StatusBadRequest)
		})

		_, _, err := c.CompanyPage(ctx, "Acme")
		require.Error(t, err)
		assert.False(t, resilience.IsTransient(err))
	})
}

func TestRoleComp(t *testing.T) {
	ctx := context.Background()

	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"role": "Software Engineer",
			"currency": "USD",
			"as_of": "2026-06-01T00:00:00Z",
			"samples": [
				{"level": "L3", "base": 150000, "total": 200000},
				{"level": "L4", "base": 170000, "total": 240000}
			]
		}`))
	})

	comp, found, err := c.RoleComp(ctx, "acme-corp", "Software Engineer")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/api/companies/acme-corp/roles/Software Engineer/comp", gotPath)
	assert.Equal(t, "USD", comp.Currency)
	require.Len(t, comp.Samples, 2)

	base, total := comp.Averages()
	assert.InDelta(t, 160000, base, 0.01)
	assert.InDelta(t, 220000, total, 0.01)
}

func TestAverages_NoSamples(t *testing.T) {
	rc := &RoleComp{}
	base, total := rc.Averages()
	assert.Zero(t, base)
	assert.Zero(t, total)
}
