package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-worker/internal/model"
	"github.com/sells-group/research-worker/internal/store"
)

func newWorkerStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeMailbox struct {
	items   []InboundMail
	fetchEr error
	sent    []string
	sendEr  error
}

func (m *fakeMailbox) Fetch(context.Context) ([]InboundMail, error) {
	return m.items, m.fetchEr
}

func (m *fakeMailbox) Send(_ context.Context, inReplyTo, body string) error {
	if m.sendEr != nil {
		return m.sendEr
	}
	m.sent = append(m.sent, inReplyTo+"|"+body)
	return nil
}

type fakeSource struct {
	name  string
	leads []Lead
	err   error
}

func (s fakeSource) Name() string { return s.name }

func (s fakeSource) Leads(context.Context) ([]Lead, error) {
	return s.leads, s.err
}

// processOne dequeues and executes a single task, then returns its final row.
func processOne(t *testing.T, w *Worker, st *store.SQLiteStore) *model.Task {
	t.Helper()
	ctx := context.Background()
	task, err := st.NextPendingTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	w.execute(ctx, task)
	final, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	return final
}

func TestExecute_StatusGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("handler success marks completed", func(t *testing.T) {
		st := newWorkerStore(t)
		require.NoError(t, st.CreateCompany(ctx, &model.Company{ID: "acme", Name: "Acme"}))
		w := New(st, nil, nil, nil, nil, DefaultConfig())

		_, err := st.CreateTask(ctx, model.TaskIgnoreArchive, map[string]any{"company_id": "acme"})
		require.NoError(t, err)

		final := processOne(t, w, st)
		assert.Equal(t, model.TaskCompleted, final.Status)
		assert.Equal(t, "acme", final.Result["company_id"])

		c, err := st.GetCompany(ctx, "acme")
		require.NoError(t, err)
		assert.NotNil(t, c.Status.ArchivedAt)
	})

	t.Run("handler error marks failed", func(t *testing.T) {
		st := newWorkerStore(t)
		w := New(st, nil, nil, nil, nil, DefaultConfig())

		_, err := st.CreateTask(ctx, model.TaskIgnoreArchive, map[string]any{"company_id": "ghost"})
		require.NoError(t, err)

		final := processOne(t, w, st)
		assert.Equal(t, model.TaskFailed, final.Status)
		assert.Contains(t, final.Error, "company not found")
	})

	t.Run("invalid args mark failed", func(t *testing.T) {
		st := newWorkerStore(t)
		w := New(st, nil, nil, nil, nil, DefaultConfig())

		_, err := st.CreateTask(ctx, model.TaskMergeEntities,
			map[string]any{"canonical_id": "a", "duplicate_id": "a"})
		require.NoError(t, err)

		final := processOne(t, w, st)
		assert.Equal(t, model.TaskFailed, final.Status)
		assert.Contains(t, final.Error, "must differ")
	})

	t.Run("unknown task type marks failed", func(t *testing.T) {
		st := newWorkerStore(t)
		w := New(st, nil, nil, nil, nil, DefaultConfig())

		_, err := st.CreateTask(ctx, model.TaskType("emit_fax"), nil)
		require.NoError(t, err)

		final := processOne(t, w, st)
		assert.Equal(t, model.TaskFailed, final.Status)
		assert.Contains(t, final.Error, "unknown task type")
	})

	t.Run("handler panic marks failed", func(t *testing.T) {
		st := newWorkerStore(t)
		// No orchestrator wired; dispatching a research task panics.
		w := New(st, nil, nil, nil, nil, DefaultConfig())

		_, err := st.CreateTask(ctx, model.TaskResearch, map[string]any{"name": "Acme"})
		require.NoError(t, err)

		final := processOne(t, w, st)
		assert.Equal(t, model.TaskFailed, final.Status)
		assert.Contains(t, final.Error, "panicked")
	})
}

func TestHandleMerge(t *testing.T) {
	ctx := context.Background()
	st := newWorkerStore(t)
	w := New(st, nil, nil, nil, nil, DefaultConfig())

	require.NoError(t, st.CreateCompany(ctx, &model.Company{ID: "acme", Name: "Acme"}))
	require.NoError(t, st.CreateCompany(ctx, &model.Company{ID: "acme-corp", Name: "Acme Corp"}))

	_, err := st.CreateTask(ctx, model.TaskMergeEntities,
		map[string]any{"canonical_id": "acme", "duplicate_id": "acme-corp"})
	require.NoError(t, err)

	final := processOne(t, w, st)
	require.Equal(t, model.TaskCompleted, final.Status)
	assert.Equal(t, "acme", final.Result["canonical_id"])

	dup, err := st.GetCompany(ctx, "acme-corp")
	require.NoError(t, err)
	assert.True(t, dup.Deleted())

	events, err := st.ListEvents(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventMerged, events[0].Type)
	assert.Equal(t, "absorbed acme-corp", events[0].Details)

	t.Run("missing company fails the task", func(t *testing.T) {
		_, err := st.CreateTask(ctx, model.TaskMergeEntities,
			map[string]any{"canonical_id": "acme", "duplicate_id": "ghost"})
		require.NoError(t, err)

		final := processOne(t, w, st)
		assert.Equal(t, model.TaskFailed, final.Status)
	})
}

func TestHandleScanMailbox(t *testing.T) {
	ctx := context.Background()
	st := newWorkerStore(t)

	mailbox := &fakeMailbox{items: []InboundMail{
		{ExternalID: "mail-1", From: "jo@acme.example", Company: "Acme Corp",
			Subject: "Hiring", Body: "We are hiring.", ReceivedAt: time.Now().UTC()},
		{ExternalID: "mail-2", From: "sam@globex.example", Company: "Globex",
			Subject: "Intro", Body: "Hello.", ReceivedAt: time.Now().UTC()},
	}}
	w := New(st, nil, nil, mailbox, nil, DefaultConfig())

	// mail-2 was already ingested on a previous scan.
	require.NoError(t, st.CreateCompany(ctx, &model.Company{ID: "globex", Name: "Globex"}))
	require.NoError(t, st.CreateMessage(ctx, &model.Message{
		CompanyID: "globex", Direction: "inbound", ExternalID: "mail-2",
	}))

	_, err := st.CreateTask(ctx, model.TaskScanMailbox, nil)
	require.NoError(t, err)

	final := processOne(t, w, st)
	require.Equal(t, model.TaskCompleted, final.Status)
	assert.Equal(t, json.Number("2"), final.Result["fetched"])
	assert.Equal(t, json.Number("1"), final.Result["stored"])
	assert.Equal(t, json.Number("1"), final.Result["enqueued"])
	assert.Equal(t, json.Number("1"), final.Result["skipped"])

	// The new sender got a company, its message, and a research task.
	c, err := st.GetCompany(ctx, "acme-corp")
	require.NoError(t, err)
	require.NotNil(t, c)
	msg, err := st.LatestInboundMessage(ctx, "acme-corp")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "mail-1", msg.ExternalID)

	pending, err := st.ListTasks(ctx, store.TaskFilter{
		Status: model.TaskPending, Type: model.TaskResearch,
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "acme-corp", pending[0].Args["company_id"])
}

func TestHandleScanMailbox_NoMailbox(t *testing.T) {
	ctx := context.Background()
	st := newWorkerStore(t)
	w := New(st, nil, nil, nil, nil, DefaultConfig())

	_, err := st.CreateTask(ctx, model.TaskScanMailbox, nil)
	require.NoError(t, err)

	final := processOne(t, w, st)
	require.Equal(t, model.TaskFailed, final.Status)
	assert.Contains(t, final.Error, "no mailbox configured")
}

func TestHandleSendAndArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("sends the drafted reply and archives", func(t *testing.T) {
		st := newWorkerStore(t)
		mailbox := &fakeMailbox{}
		w := New(st, nil, nil, mailbox, nil, DefaultConfig())

		require.NoError(t, st.CreateCompany(ctx, &model.Company{ID: "acme", Name: "Acme"}))
		msg := &model.Message{CompanyID: "acme", Direction: "inbound", ExternalID: "mail-1", Body: "hi"}
		require.NoError(t, st.CreateMessage(ctx, msg))
		require.NoError(t, st.SetMessageReply(ctx, msg.ID, "Thanks, let's talk."))

		_, err := st.CreateTask(ctx, model.TaskSendArchive, map[string]any{"company_id": "acme"})
		require.NoError(t, err)

		final := processOne(t, w, st)
		require.Equal(t, model.TaskCompleted, final.Status)
		require.Len(t, mailbox.sent, 1)
		assert.Equal(t, "mail-1|Thanks, let's talk.", mailbox.sent[0])

		c, err := st.GetCompany(ctx, "acme")
		require.NoError(t, err)
		assert.NotNil(t, c.Status.ReplySentAt)
		assert.NotNil(t, c.Status.ArchivedAt)

		latest, err := st.LatestInboundMessage(ctx, "acme")
		require.NoError(t, err)
		assert.NotNil(t, latest.ArchivedAt)
	})

	t.Run("fails without a drafted reply", func(t *testing.T) {
		st := newWorkerStore(t)
		w := New(st, nil, nil, &fakeMailbox{}, nil, DefaultConfig())

		require.NoError(t, st.CreateCompany(ctx, &model.Company{ID: "acme", Name: "Acme"}))
		require.NoError(t, st.CreateMessage(ctx, &model.Message{
			CompanyID: "acme", Direction: "inbound", ExternalID: "mail-1",
		}))

		_, err := st.CreateTask(ctx, model.TaskSendArchive, map[string]any{"company_id": "acme"})
		require.NoError(t, err)

		final := processOne(t, w, st)
		assert.Equal(t, model.TaskFailed, final.Status)
		assert.Contains(t, final.Error, "no drafted reply")
	})
}

func TestHandleBulkImport(t *testing.T) {
	ctx := context.Background()

	t.Run("counts created, updated, and skipped rows", func(t *testing.T) {
		st := newWorkerStore(t)
		require.NoError(t, st.CreateCompany(ctx, &model.Company{ID: "globex", Name: "Globex"}))

		source := fakeSource{name: "test", leads: []Lead{
			{CompanyName: "Acme Corp", Website: "https://acme.example"},
			{CompanyName: "Globex", Website: "https://globex.example"}, // fills empty website
			{CompanyName: "Globex"},                                   // nothing left to add
			{CompanyName: "Acme-Corp"},                                // variant spelling of row one
		}}
		w := New(st, nil, nil, nil, []LeadSource{source}, DefaultConfig())

		_, err := st.CreateTask(ctx, model.TaskBulkImport, nil)
		require.NoError(t, err)

		final := processOne(t, w, st)
		require.Equal(t, model.TaskCompleted, final.Status)
		assert.Equal(t, json.Number("4"), final.Result["found"])
		assert.Equal(t, json.Number("4"), final.Result["processed"])
		assert.Equal(t, json.Number("1"), final.Result["created"])
		assert.Equal(t, json.Number("1"), final.Result["updated"])
		assert.Equal(t, json.Number("2"), final.Result["skipped"])
		assert.Equal(t, json.Number("0"), final.Result["errors"])

		globex, err := st.GetCompany(ctx, "globex")
		require.NoError(t, err)
		assert.Equal(t, "https://globex.example", globex.Details.Website)

		aliases, err := st.ListAliases(ctx, "acme-corp", true)
		require.NoError(t, err)
		require.Len(t, aliases, 1)
		assert.Equal(t, "Acme-Corp", aliases[0].Text)
		assert.Equal(t, model.AliasSeed, aliases[0].Source)
	})

	t.Run("broken source fails the task with partial counters", func(t *testing.T) {
		st := newWorkerStore(t)
		sources := []LeadSource{
			fakeSource{name: "good", leads: []Lead{{CompanyName: "Acme"}}},
			fakeSource{name: "bad", err: errors.New("sheet unreadable")},
		}
		w := New(st, nil, nil, nil, sources, DefaultConfig())

		_, err := st.CreateTask(ctx, model.TaskBulkImport, nil)
		require.NoError(t, err)

		final := processOne(t, w, st)
		assert.Equal(t, model.TaskFailed, final.Status)
		assert.Contains(t, final.Error, "sheet unreadable")
		assert.Equal(t, json.Number("1"), final.Result["created"])
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := newWorkerStore(t)
	w := New(st, nil, nil, nil, nil, Config{PollInterval: 5 * time.Millisecond, ErrorBackoff: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
