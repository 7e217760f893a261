// Package store persists tasks, companies, aliases, events, messages, and
// the research cache. Two backends exist: SQLite (default) and Postgres.
package store

import (
	"context"

	"github.com/sells-group/research-worker/internal/company"
	"github.com/sells-group/research-worker/internal/model"
)

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	Status model.TaskStatus `json:"status,omitempty"`
	Type   model.TaskType   `json:"type,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store is the full persistence interface for the worker. The identity
// operations are shared with the company package's narrower view.
type Store interface {
	company.Store

	// Task queue
	CreateTask(ctx context.Context, taskType model.TaskType, args map[string]any) (*model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	NextPendingTask(ctx context.Context) (*model.Task, error)
	UpdateTask(ctx context.Context, id string, status model.TaskStatus, result model.Result, errMsg string) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)

	// Audit log reads (writes are on company.Store)
	ListEvents(ctx context.Context, companyID string) ([]model.Event, error)

	// Messages
	CreateMessage(ctx context.Context, m *model.Message) error
	LatestInboundMessage(ctx context.Context, companyID string) (*model.Message, error)
	SetMessageReply(ctx context.Context, id int64, reply string) error
	ArchiveMessages(ctx context.Context, companyID string) error
	HasMessage(ctx context.Context, externalID string) (bool, error)

	// Research cache
	CacheGet(ctx context.Context, key string) ([]byte, bool, error)
	CachePut(ctx context.Context, key string, step int, value []byte) error
	CacheDelete(ctx context.Context, key string) error
	CacheClearStep(ctx context.Context, step int) error
	CacheClearAll(ctx context.Context) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
