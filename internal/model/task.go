// Package model defines the persisted data types shared across the worker.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// TaskStatus is the lifecycle state of a queued task. Transitions only move
// forward: pending -> running -> completed | failed.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskType identifies which handler processes a task.
type TaskType string

const (
	TaskResearch      TaskType = "research_company"
	TaskGenerateReply TaskType = "generate_reply"
	TaskScanMailbox   TaskType = "scan_mailbox"
	TaskSendArchive   TaskType = "send_and_archive"
	TaskIgnoreArchive TaskType = "ignore_and_archive"
	TaskBulkImport    TaskType = "bulk_import"
	TaskMergeEntities TaskType = "merge_entities"
)

// KnownTaskTypes lists every type the worker dispatches on.
var KnownTaskTypes = []TaskType{
	TaskResearch,
	TaskGenerateReply,
	TaskScanMailbox,
	TaskSendArchive,
	TaskIgnoreArchive,
	TaskBulkImport,
	TaskMergeEntities,
}

// Task is a durable unit of work. Rows are never deleted; the table doubles
// as an audit trail of everything the worker has done.
type Task struct {
	ID        string         `json:"id" db:"id"`
	Type      TaskType       `json:"type" db:"type"`
	Args      map[string]any `json:"args" db:"args"`
	Status    TaskStatus     `json:"status" db:"status"`
	Result    Result         `json:"result,omitempty" db:"result"`
	Error     string         `json:"error,omitempty" db:"error"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// ResearchArgs are the arguments of a research_company task.
type ResearchArgs struct {
	CompanyID     string `json:"company_id,omitempty"`
	Name          string `json:"name,omitempty"`
	SourceURL     string `json:"source_url,omitempty"`
	Content       string `json:"content,omitempty"`
	ForceLevels   bool   `json:"force_levels,omitempty"`
	ForceContacts bool   `json:"force_contacts,omitempty"`
}

// Validate rejects research requests that could never resolve to searchable
// text. Checked before any external call is made.
func (a ResearchArgs) Validate() error {
	if strings.TrimSpace(a.Content) == "" &&
		strings.TrimSpace(a.Name) == "" &&
		strings.TrimSpace(a.SourceURL) == "" &&
		strings.TrimSpace(a.CompanyID) == "" {
		return eris.New("research: at least one of content, name, source_url, or company_id is required")
	}
	return nil
}

// MergeArgs are the arguments of a merge_entities task.
type MergeArgs struct {
	CanonicalID string `json:"canonical_id"`
	DuplicateID string `json:"duplicate_id"`
}

// Validate checks both ids are present and distinct.
func (a MergeArgs) Validate() error {
	if a.CanonicalID == "" || a.DuplicateID == "" {
		return eris.New("merge: canonical_id and duplicate_id are required")
	}
	if a.CanonicalID == a.DuplicateID {
		return eris.New("merge: canonical_id and duplicate_id must differ")
	}
	return nil
}

// CompanyIDArgs are the arguments of reply/archive tasks.
type CompanyIDArgs struct {
	CompanyID string `json:"company_id"`
}

// Validate checks the company id is present.
func (a CompanyIDArgs) Validate() error {
	if a.CompanyID == "" {
		return eris.New("task: company_id is required")
	}
	return nil
}

// ImportCounters is the incrementally-updated result of a bulk_import task.
// The enqueuing boundary polls the task row to render progress.
type ImportCounters struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Result converts the counters into a task result map.
func (c ImportCounters) Result() Result {
	return Result{
		"found":     c.Found,
		"processed": c.Processed,
		"created":   c.Created,
		"updated":   c.Updated,
		"skipped":   c.Skipped,
		"errors":    c.Errors,
	}
}
