package pipeline

import "fmt"

// State is the furthest point a run reached.
type State string

const (
	Received      State = "received"
	Fetched       State = "fetched"
	Transcribed   State = "transcribed"
	RolesAssigned State = "roles_assigned"
	Analyzed      State = "analyzed"
	NoteFormatted State = "note_formatted"
	Persisted     State = "persisted"
	Notified      State = "notified"
)

type Stage string

const (
	StageResolve    Stage = "resolve"
	StageFetch      Stage = "fetch_audio"
	StageTranscribe Stage = "transcribe"
	StageClassify   Stage = "classify_roles"
	StageAnalyze    Stage = "analyze"
	StageFormat     Stage = "format_note"
	StagePersist    Stage = "persist_note"
	StageNotify     Stage = "notify"
)

type Status string

const (
	Succeeded Status = "succeeded"
	Aborted   Status = "aborted"
	Failed    Status = "failed"
)

// Outcome describes how a single run ended. For Failed runs Stage is the
// step that returned the error. For Aborted runs Stage is the step a gate
// kept from running; nothing in it was attempted.
type Outcome struct {
	RunID      string `json:"run_id"`
	Status     Status `json:"status"`
	Reached    State  `json:"reached"`
	Stage      Stage  `json:"stage,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Err        error  `json:"-"`
	DealID     int64  `json:"deal_id,omitempty"`
	WasCreated bool   `json:"was_created,omitempty"`
	Note       string `json:"-"`
}

type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
