package proofrequest

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

var allStatuses = []Status{StatusPending, StatusApproved, StatusDenied, StatusExpired}

// Terminal reports whether no lifecycle event may leave this status.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

var urgencySLA = map[Urgency]time.Duration{
	UrgencyLow:    7 * 24 * time.Hour,
	UrgencyNormal: 3 * 24 * time.Hour,
	UrgencyHigh:   24 * time.Hour,
	UrgencyUrgent: 6 * time.Hour,
}

func (u Urgency) Valid() bool {
	_, ok := urgencySLA[u]
	return ok
}

// SLA is the response window shown to clinicians. It is informational only;
// nothing expires a request because its SLA has elapsed.
func (u Urgency) SLA() time.Duration {
	return urgencySLA[u]
}

func ParseUrgency(raw string) (Urgency, error) {
	u := Urgency(raw)
	if !u.Valid() {
		return "", fmt.Errorf("unknown urgency %q", raw)
	}
	return u, nil
}

// Purpose categories offered by the request form. Any other free text is
// accepted as-is; PurposeOther takes its text from Draft.CustomPurpose.
const (
	PurposeInsuranceClaim = "insurance-claim"
	PurposeReferral       = "referral"
	PurposeConsultation   = "consultation"
	PurposeOther          = "other"
)

type PatientRef struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

type AuditEntry struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Record is a single proof request. Status and AuditLog are only ever
// changed through Apply.
type Record struct {
	ID              string       `json:"id"`
	Patient         PatientRef   `json:"patient"`
	Purpose         string       `json:"purpose"`
	RequestedFields []string     `json:"requestedFields"`
	Urgency         Urgency      `json:"urgency"`
	Status          Status       `json:"status"`
	CreatedAt       time.Time    `json:"createdAt"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
	Message         string       `json:"message,omitempty"`
	AttachmentRef   string       `json:"attachmentRef,omitempty"`
	LastSentAt      *time.Time   `json:"lastSentAt,omitempty"`
	DenyReason      string       `json:"denyReason,omitempty"`
	AuditLog        []AuditEntry `json:"auditLog"`
}

// ResponseDueAt is CreatedAt plus the urgency SLA.
func (r Record) ResponseDueAt() time.Time {
	return r.CreatedAt.Add(r.Urgency.SLA())
}

func (r Record) clone() Record {
	out := r
	out.RequestedFields = append([]string(nil), r.RequestedFields...)
	out.AuditLog = append([]AuditEntry(nil), r.AuditLog...)
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	if r.LastSentAt != nil {
		t := *r.LastSentAt
		out.LastSentAt = &t
	}
	return out
}

// Draft is the caller-supplied input for a new request.
type Draft struct {
	ID              string     `json:"id,omitempty"`
	Patient         PatientRef `json:"patient"`
	Purpose         string     `json:"purpose"`
	CustomPurpose   string     `json:"customPurpose,omitempty"`
	RequestedFields []string   `json:"requestedFields"`
	Urgency         Urgency    `json:"urgency,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	Message         string     `json:"message,omitempty"`
	AttachmentRef   string     `json:"attachmentRef,omitempty"`
}

// View is the read-only shape handed to the rendering layer.
type View struct {
	Record
	EffectiveStatus Status    `json:"effectiveStatus"`
	ResponseDueAt   time.Time `json:"responseDueAt"`
	AttachmentURL   *string   `json:"attachmentUrl,omitempty"`
}

func NewView(r Record, now time.Time) View {
	return View{
		Record:          r.clone(),
		EffectiveStatus: EffectiveStatus(r, now),
		ResponseDueAt:   r.ResponseDueAt(),
	}
}
