package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-worker/internal/company"
	"github.com/sells-group/research-worker/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, model.TaskResearch, map[string]any{"name": "Acme"})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	assert.Equal(t, model.TaskPending, task.Status)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.TaskResearch, got.Type)
	assert.Equal(t, "Acme", got.Args["name"])

	require.NoError(t, s.UpdateTask(ctx, task.ID, model.TaskRunning, nil, ""))

	// Same-status updates are allowed so long-running handlers can flush
	// incremental results.
	require.NoError(t, s.UpdateTask(ctx, task.ID, model.TaskRunning, model.Result{"found": 10}, ""))

	require.NoError(t, s.UpdateTask(ctx, task.ID, model.TaskCompleted, model.Result{"found": 25}, ""))

	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, got.Status)

	t.Run("terminal status is immutable", func(t *testing.T) {
		assert.Error(t, s.UpdateTask(ctx, task.ID, model.TaskRunning, nil, ""))
		assert.Error(t, s.UpdateTask(ctx, task.ID, model.TaskFailed, nil, "late"))
	})

	t.Run("backward transition rejected", func(t *testing.T) {
		other, err := s.CreateTask(ctx, model.TaskResearch, nil)
		require.NoError(t, err)
		require.NoError(t, s.UpdateTask(ctx, other.ID, model.TaskRunning, nil, ""))
		assert.Error(t, s.UpdateTask(ctx, other.ID, model.TaskPending, nil, ""))
	})
}

func TestUpdateTask_FailureKeepsLastResult(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, model.TaskBulkImport, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateTask(ctx, task.ID, model.TaskRunning, model.Result{"found": 7}, ""))
	require.NoError(t, s.UpdateTask(ctx, task.ID, model.TaskFailed, nil, "source unreachable"))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status)
	assert.Equal(t, "source unreachable", got.Error)
	// A nil result on failure must not wipe the counters flushed earlier.
	require.NotNil(t, got.Result)
	assert.Equal(t, json.Number("7"), got.Result["found"])
}

func TestNextPendingTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	got, err := s.NextPendingTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	first, err := s.CreateTask(ctx, model.TaskResearch, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := s.CreateTask(ctx, model.TaskScanMailbox, nil)
	require.NoError(t, err)

	// Dequeue returns the oldest pending task without marking it running,
	// so a crash before the status update leaves it retryable.
	got, err = s.NextPendingTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, model.TaskPending, got.Status)

	got, err = s.NextPendingTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	require.NoError(t, s.UpdateTask(ctx, first.ID, model.TaskRunning, nil, ""))
	got, err = s.NextPendingTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestListTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.CreateTask(ctx, model.TaskResearch, nil)
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.TaskMergeEntities, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateTask(ctx, a.ID, model.TaskCompleted, nil, ""))

	byStatus, err := s.ListTasks(ctx, TaskFilter{Status: model.TaskCompleted})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, a.ID, byStatus[0].ID)

	byType, err := s.ListTasks(ctx, TaskFilter{Type: model.TaskMergeEntities})
	require.NoError(t, err)
	require.Len(t, byType, 1)

	limited, err := s.ListTasks(ctx, TaskFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCompanyCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := &model.Company{ID: "acme-corp", Name: "Acme Corp"}
	require.NoError(t, s.CreateCompany(ctx, c))
	assert.Equal(t, model.DetailsSchemaVersion, c.Details.Version)

	err := s.CreateCompany(ctx, &model.Company{ID: "acme-corp", Name: "Acme"})
	assert.ErrorIs(t, err, company.ErrAlreadyExists)

	c.Details.Website = "https://acme.example"
	c.Status.FitCategory = model.FitGood
	require.NoError(t, s.UpdateCompany(ctx, c))

	got, err := s.GetCompany(ctx, "acme-corp")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://acme.example", got.Details.Website)
	assert.Equal(t, model.FitGood, got.Status.FitCategory)

	require.NoError(t, s.SoftDeleteCompany(ctx, "acme-corp"))
	require.NoError(t, s.SoftDeleteCompany(ctx, "acme-corp")) // idempotent

	got, err = s.GetCompany(ctx, "acme-corp")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Deleted())

	live, err := s.ListCompanies(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := s.ListCompanies(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAliases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateCompany(ctx, &model.Company{ID: "acme", Name: "Acme"}))

	a, err := s.CreateAlias(ctx, "acme", "Acme Advisors LLC", model.AliasAuto)
	require.NoError(t, err)
	assert.Equal(t, "ACME ADVISORS", a.Normalized)
	assert.True(t, a.Active)

	// A second active alias with the same normalized form is rejected.
	_, err = s.CreateAlias(ctx, "acme", "Acme Advisors, Inc.", model.AliasManual)
	assert.ErrorIs(t, err, company.ErrDuplicateAlias)

	list, err := s.ListAliases(ctx, "acme", true)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, err := s.GetAlias(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.AliasAuto, got.Source)

	missing, err := s.GetAlias(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSetAliasAsCanonical(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateCompany(ctx, &model.Company{ID: "acme", Name: "Acme"}))
	require.NoError(t, s.CreateCompany(ctx, &model.Company{ID: "other", Name: "Other"}))

	a, err := s.CreateAlias(ctx, "acme", "Acme Corporation", model.AliasManual)
	require.NoError(t, err)

	require.NoError(t, s.SetAliasAsCanonical(ctx, "acme", a.ID))
	got, err := s.GetCompany(ctx, "acme")
	require.NoError(t, err)
	// The display name changes; the slug id never does.
	assert.Equal(t, "Acme Corporation", got.Name)
	assert.Equal(t, "acme", got.ID)

	assert.Error(t, s.SetAliasAsCanonical(ctx, "other", a.ID))
}

func TestMergeCompanies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	canonical := &model.Company{ID: "acme", Name: "Acme"}
	canonical.Details.Website = "https://acme.example"
	require.NoError(t, s.CreateCompany(ctx, canonical))

	duplicate := &model.Company{ID: "acme-corp", Name: "Acme Corp"}
	duplicate.Details.Website = "https://old.example"
	duplicate.Details.Industry = "Robotics"
	require.NoError(t, s.CreateCompany(ctx, duplicate))

	_, err := s.CreateAlias(ctx, "acme", "Acme Robotics", model.AliasManual)
	require.NoError(t, err)
	_, err = s.CreateAlias(ctx, "acme-corp", "Acme Robotics Inc", model.AliasAuto)
	require.NoError(t, err)
	_, err = s.CreateAlias(ctx, "acme-corp", "ACME International", model.AliasSeed)
	require.NoError(t, err)

	require.NoError(t, s.CreateMessage(ctx, &model.Message{CompanyID: "acme-corp", Direction: "inbound", Body: "hi"}))
	require.NoError(t, s.AppendEvent(ctx, "acme-corp", "imported", "from sheet"))

	merged, err := s.MergeCompanies(ctx, "acme", "acme-corp")
	require.NoError(t, err)
	require.True(t, merged)

	got, err := s.GetCompany(ctx, "acme")
	require.NoError(t, err)
	// Canonical fields win; empty canonical fields are filled from the
	// duplicate.
	assert.Equal(t, "https://acme.example", got.Details.Website)
	assert.Equal(t, "Robotics", got.Details.Industry)

	dup, err := s.GetCompany(ctx, "acme-corp")
	require.NoError(t, err)
	assert.True(t, dup.Deleted())

	aliases, err := s.ListAliases(ctx, "acme", false)
	require.NoError(t, err)
	require.Len(t, aliases, 3)
	byText := map[string]model.Alias{}
	for _, a := range aliases {
		byText[a.Text] = a
	}
	// The conflicting duplicate alias is deactivated instead of aborting.
	assert.False(t, byText["Acme Robotics Inc"].Active)
	assert.True(t, byText["ACME International"].Active)

	msg, err := s.LatestInboundMessage(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, msg)

	events, err := s.ListEvents(ctx, "acme")
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	t.Run("idempotent", func(t *testing.T) {
		merged, err := s.MergeCompanies(ctx, "acme", "acme-corp")
		require.NoError(t, err)
		assert.True(t, merged)
	})

	t.Run("unknown id", func(t *testing.T) {
		merged, err := s.MergeCompanies(ctx, "acme", "nope")
		require.NoError(t, err)
		assert.False(t, merged)
	})

	t.Run("same id rejected", func(t *testing.T) {
		merged, err := s.MergeCompanies(ctx, "acme", "acme")
		assert.ErrorContains(t, err, "must differ")
		assert.False(t, merged)

		still, err := s.GetCompany(ctx, "acme")
		require.NoError(t, err)
		assert.False(t, still.Deleted())
	})
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateCompany(ctx, &model.Company{ID: "acme", Name: "Acme"}))

	older := &model.Message{
		CompanyID:  "acme",
		Direction:  "inbound",
		ExternalID: "msg-1",
		Body:       "first",
		ReceivedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.CreateMessage(ctx, older))

	newer := &model.Message{
		CompanyID:  "acme",
		Direction:  "inbound",
		ExternalID: "msg-2",
		Body:       "second",
	}
	require.NoError(t, s.CreateMessage(ctx, newer))
	require.NotZero(t, newer.ID)

	ok, err := s.HasMessage(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasMessage(ctx, "msg-404")
	require.NoError(t, err)
	assert.False(t, ok)

	latest, err := s.LatestInboundMessage(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "second", latest.Body)

	require.NoError(t, s.SetMessageReply(ctx, newer.ID, "thanks, talk soon"))
	latest, err = s.LatestInboundMessage(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "thanks, talk soon", latest.Reply)

	require.NoError(t, s.ArchiveMessages(ctx, "acme"))
	latest, err = s.LatestInboundMessage(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, latest.ArchivedAt)
}

func TestCacheOps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, found, err := s.CacheGet(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.CachePut(ctx, "facts:abc", 3, []byte(`{"name":"Acme"}`)))
	require.NoError(t, s.CachePut(ctx, "comp:def", 5, []byte(`{"base":100}`)))

	val, found, err := s.CacheGet(ctx, "facts:abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"name":"Acme"}`, string(val))

	// Re-put overwrites.
	require.NoError(t, s.CachePut(ctx, "facts:abc", 3, []byte(`{"name":"Acme Corp"}`)))
	val, _, err = s.CacheGet(ctx, "facts:abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Acme Corp"}`, string(val))

	require.NoError(t, s.CacheClearStep(ctx, 3))
	_, found, err = s.CacheGet(ctx, "facts:abc")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = s.CacheGet(ctx, "comp:def")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, s.CacheDelete(ctx, "comp:def"))
	require.NoError(t, s.CacheClearAll(ctx))
}
