package importer

import (
	"time"

	"github.com/turbolytics/pimsync/pkg/inriver"
	"github.com/turbolytics/pimsync/pkg/transform"
)

// RunState is the resumable progress of an import run. Page position is
// derived only from this state, so a run restored from any snapshot neither
// repeats nor skips a page.
type RunState struct {
	CurrentPage            int      `json:"currentPage"`
	TotalImported          int      `json:"totalImported"`
	CurrentEntityTypeIndex int      `json:"currentEntityTypeIndex"`
	EntityTypes            []string `json:"entityTypes"`
	RetryCount             int      `json:"retries"`
}

func NewRunState(entityTypes []string) RunState {
	return RunState{
		EntityTypes: append([]string{}, entityTypes...),
	}
}

// CurrentEntityType returns the type being imported, or false once every
// type has been processed.
func (s RunState) CurrentEntityType() (string, bool) {
	if s.CurrentEntityTypeIndex < 0 || s.CurrentEntityTypeIndex >= len(s.EntityTypes) {
		return "", false
	}
	return s.EntityTypes[s.CurrentEntityTypeIndex], true
}

// Status is the snapshot persisted after every unit of work.
type Status struct {
	RunID     string    `json:"run_id"`
	Job       string    `json:"job"`
	State     RunState  `json:"state"`
	Phase     State     `json:"phase"`
	Complete  bool      `json:"complete"`
	Failed    bool      `json:"failed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job parameterizes the engine for a kind of run.
type Job struct {
	Label        string
	RetryCeiling int
	BackoffUnit  time.Duration
	PageSize     int
	ObjectType   string

	SuccessTitle string
	FailureTitle string

	// SuccessFormat and FailureFormat take the total imported as %[1]d and
	// the entity type count as %[2]d.
	SuccessFormat string
	FailureFormat string
}

var (
	Historical = Job{
		Label:        "inriver Historical Import",
		RetryCeiling: 5,
		BackoffUnit:  5 * time.Second,
		PageSize:     inriver.DefaultPageSize,
		ObjectType:   transform.DefaultObjectType,

		SuccessTitle:  "Completed Historical Import",
		FailureTitle:  "Failed to complete historical import",
		SuccessFormat: "Imported %[1]d total entities from inriver across %[2]d entity types.",
		FailureFormat: "Maximum retries exceeded. Imported %[1]d entities before failure.",
	}

	Nightly = Job{
		Label:        "inriver Nightly Import",
		RetryCeiling: 3,
		BackoffUnit:  3 * time.Second,
		PageSize:     inriver.DefaultPageSize,
		ObjectType:   transform.DefaultObjectType,

		SuccessTitle:  "Completed Nightly Sync",
		FailureTitle:  "Nightly sync failed",
		SuccessFormat: "Synced %[1]d entities from inriver.",
		FailureFormat: "Maximum retries exceeded. Synced %[1]d entities before failure.",
	}
)

func (j Job) withDefaults() Job {
	if j.PageSize <= 0 {
		j.PageSize = inriver.DefaultPageSize
	}
	if j.ObjectType == "" {
		j.ObjectType = transform.DefaultObjectType
	}
	if j.Label == "" {
		j.Label = "inriver Import"
	}
	if j.SuccessTitle == "" {
		j.SuccessTitle = "Completed Import"
	}
	if j.FailureTitle == "" {
		j.FailureTitle = "Import failed"
	}
	if j.SuccessFormat == "" {
		j.SuccessFormat = "Imported %[1]d entities from inriver."
	}
	if j.FailureFormat == "" {
		j.FailureFormat = "Maximum retries exceeded. Imported %[1]d entities before failure."
	}
	return j
}
