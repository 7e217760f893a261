package model

import (
	"time"
)

// Company is the canonical record for a researched company. The ID is a
// stable slug derived from the name at creation time and never changes, even
// when the display name is later corrected.
type Company struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Details   CompanyDetails `json:"details" db:"details"`
	Status    CompanyStatus  `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Deleted reports whether the row has been tombstoned.
func (c *Company) Deleted() bool {
	return c.DeletedAt != nil
}

// CompanyDetails holds the research facts accumulated across pipeline steps.
// Version is bumped when the shape changes; ApplySchemaVersion migrates old
// blobs forward on read.
type CompanyDetails struct {
	Version int `json:"version,omitempty"`

	// Basic facts (research_company step).
	Website     string   `json:"website,omitempty"`
	Description string   `json:"description,omitempty"`
	Industry    string   `json:"industry,omitempty"`
	Headcount   string   `json:"headcount,omitempty"`
	HQLocation  string   `json:"hq_location,omitempty"`
	Remote      string   `json:"remote,omitempty"`
	TechStack   []string `json:"tech_stack,omitempty"`
	Funding     string   `json:"funding,omitempty"`

	// Comparable-role data (research_levels step).
	LevelsURL      string   `json:"levels_url,omitempty"`
	KnownLevels    []string `json:"known_levels,omitempty"`
	ComparableRole string   `json:"comparable_role,omitempty"`

	// Compensation data (research_compensation step). Averages over the
	// observations the provider returned.
	CompBaseAvg  float64 `json:"comp_base_avg,omitempty"`
	CompTotalAvg float64 `json:"comp_total_avg,omitempty"`
	CompSamples  int     `json:"comp_samples,omitempty"`
	CompCurrency string  `json:"comp_currency,omitempty"`
	CompAsOf     string  `json:"comp_as_of,omitempty"`

	// Relationship/contact data (find_contacts step).
	Contacts []ContactInfo `json:"contacts,omitempty"`
}

// DetailsSchemaVersion is the current CompanyDetails shape.
const DetailsSchemaVersion = 2

// ApplySchemaVersion migrates a details blob written by an older build to
// the current shape. Forward-only and idempotent.
func (d *CompanyDetails) ApplySchemaVersion() {
	if d.Version < 2 {
		// v1 stored the comparable role under a bare "level" key with no
		// KnownLevels list; nothing to move, only the marker changes.
		d.Version = 2
	}
}

// ContactInfo is one person discovered during the contact step.
type ContactInfo struct {
	Name     string `json:"name"`
	Title    string `json:"title,omitempty"`
	Profile  string `json:"profile,omitempty"`
	Relation string `json:"relation,omitempty"`
}

// FitCategory is the fit evaluator's verdict for a company.
type FitCategory string

const (
	FitGood    FitCategory = "good"
	FitNeutral FitCategory = "neutral"
	FitPoor    FitCategory = "poor"
)

// CompanyStatus tracks the research lifecycle and outreach state of a
// company. Stored as a JSON blob alongside the row.
type CompanyStatus struct {
	ResearchErrors      []ResearchStepError `json:"research_errors,omitempty"`
	ResearchFailedAt    *time.Time          `json:"research_failed_at,omitempty"`
	ResearchCompletedAt *time.Time          `json:"research_completed_at,omitempty"`
	ArchivedAt          *time.Time          `json:"archived_at,omitempty"`
	ReplySentAt         *time.Time          `json:"reply_sent_at,omitempty"`
	FitCategory         FitCategory         `json:"fit_category,omitempty"`
	FitConfidence       float64             `json:"fit_confidence,omitempty"`
	FitDecisionAt       *time.Time          `json:"fit_decision_at,omitempty"`
}

// ResearchStepError records a non-fatal pipeline step failure on the company
// itself rather than failing the task.
type ResearchStepError struct {
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Alias is an alternate name that resolves to a company. At most one active
// alias may exist per (company_id, normalized) pair.
type Alias struct {
	ID         int64       `json:"id" db:"id"`
	CompanyID  string      `json:"company_id" db:"company_id"`
	Text       string      `json:"text" db:"text"`
	Normalized string      `json:"normalized" db:"normalized"`
	Source     AliasSource `json:"source" db:"source"`
	Active     bool        `json:"active" db:"active"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// AliasSource ranks how much an alias is trusted during resolution fallback.
type AliasSource string

const (
	AliasManual AliasSource = "manual"
	AliasAuto   AliasSource = "auto"
	AliasSeed   AliasSource = "seed"
)

// SourceRank orders alias sources by trust, lowest rank first.
func SourceRank(s AliasSource) int {
	switch s {
	case AliasManual:
		return 0
	case AliasAuto:
		return 1
	case AliasSeed:
		return 2
	default:
		return 3
	}
}

// Event is one row of the append-only audit log.
type Event struct {
	ID        int64     `json:"id" db:"id"`
	CompanyID string    `json:"company_id" db:"company_id"`
	Type      string    `json:"type" db:"type"`
	Details   string    `json:"details,omitempty" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Event types written by the worker.
const (
	EventResearchCompleted = "research_completed"
	EventReplySent         = "reply_sent"
	EventArchived          = "archived"
	EventMerged            = "merged"
	EventImported          = "imported"
)

// Message is an inbound or outbound mail item associated with a company.
type Message struct {
	ID         int64      `json:"id" db:"id"`
	CompanyID  string     `json:"company_id" db:"company_id"`
	Direction  string     `json:"direction" db:"direction"` // inbound | outbound
	ExternalID string     `json:"external_id,omitempty" db:"external_id"`
	Subject    string     `json:"subject,omitempty" db:"subject"`
	Body       string     `json:"body,omitempty" db:"body"`
	Reply      string     `json:"reply,omitempty" db:"reply"`
	ReceivedAt time.Time  `json:"received_at" db:"received_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty" db:"archived_at"`
}
