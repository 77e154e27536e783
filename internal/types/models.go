package types

import "time"

type TargetKind string

const (
	TargetContact TargetKind = "contact"
	TargetDeal    TargetKind = "deal"
)

type CallDirection string

const (
	Inbound  CallDirection = "inbound"
	Outbound CallDirection = "outbound"
)

// Label is the Russian wording used in notes and prompts.
func (d CallDirection) Label() string {
	if d == Outbound {
		return "Исходящий"
	}
	return "Входящий"
}

// CallEvent is one normalized webhook delivery. ResponsibleUserID is 0 when absent.
type CallEvent struct {
	RawTargetID       int64         `json:"raw_target_id"`
	TargetKind        TargetKind    `json:"target_kind"`
	Direction         CallDirection `json:"direction"`
	RecordingURL      string        `json:"recording_url"`
	CreatedAt         time.Time     `json:"created_at"`
	ResponsibleUserID int64         `json:"responsible_user_id,omitempty"`
	Phone             string        `json:"phone,omitempty"`
}

type ResolvedTarget struct {
	DealID     int64 `json:"deal_id"`
	WasCreated bool  `json:"was_created"`
}

// Deal is a read-only view of a CRM lead.
type Deal struct {
	ID                int64   `json:"id"`
	StatusID          int64   `json:"status_id"`
	ResponsibleUserID int64   `json:"responsible_user_id"`
	ContactIDs        []int64 `json:"contact_ids,omitempty"`
}

type Contact struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Utterance struct {
	SpeakerLabel string `json:"speaker_label"`
	Text         string `json:"text"`
	StartMs      int64  `json:"start_ms"`
	EndMs        int64  `json:"end_ms"`
}

type Transcript struct {
	FullText        string      `json:"full_text"`
	Utterances      []Utterance `json:"utterances"`
	DurationSeconds float64     `json:"duration_seconds"`
}

type Role string

const (
	Agent    Role = "agent"
	Customer Role = "customer"
)

// Label is the Russian wording shown next to transcript lines.
func (r Role) Label() string {
	if r == Agent {
		return "Менеджер"
	}
	return "Клиент"
}

// RoleAssignment maps a diarization label ("A", "B", ...) to a role.
type RoleAssignment map[string]Role

// AnalysisResult holds the facts extracted by the language model.
type AnalysisResult struct {
	ClientName      string   `json:"client_name"`
	ManagerName     string   `json:"manager_name"`
	Summary         string   `json:"summary"`
	City            string   `json:"client_city"`
	WorkType        string   `json:"work_type"`
	Cost            string   `json:"cost"`
	PaymentTerms    string   `json:"payment_terms"`
	Outcome         string   `json:"call_result"`
	NextContactDate string   `json:"next_contact_date"`
	NextSteps       []string `json:"next_steps"`
}
