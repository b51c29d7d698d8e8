package proofrequest

import (
	"strings"
	"time"
)

// ValidateForCreation normalizes a draft into a pending record without an id,
// creation time or audit entry. Requested fields are trimmed and
// de-duplicated keeping first-seen order; an empty urgency becomes normal.
func ValidateForCreation(d Draft) (Record, error) {
	patient := PatientRef{
		ID:    strings.TrimSpace(d.Patient.ID),
		Name:  strings.TrimSpace(d.Patient.Name),
		Email: strings.TrimSpace(d.Patient.Email),
	}
	if patient.ID == "" {
		return Record{}, &ValidationError{Code: ValidationMissingPatient}
	}

	purpose := strings.TrimSpace(d.Purpose)
	if purpose == PurposeOther {
		purpose = strings.TrimSpace(d.CustomPurpose)
	}
	if purpose == "" {
		return Record{}, &ValidationError{Code: ValidationEmptyPurpose}
	}

	fields := dedupe(d.RequestedFields)
	if len(fields) == 0 {
		return Record{}, &ValidationError{Code: ValidationNoFieldsSelected}
	}

	urgency := d.Urgency
	if urgency == "" {
		urgency = UrgencyNormal
	}
	if !urgency.Valid() {
		return Record{}, &ValidationError{Code: ValidationInvalidUrgency}
	}

	return Record{
		ID:              strings.TrimSpace(d.ID),
		Patient:         patient,
		Purpose:         purpose,
		RequestedFields: fields,
		Urgency:         urgency,
		Status:          StatusPending,
		ExpiresAt:       d.ExpiresAt,
		Message:         strings.TrimSpace(d.Message),
		AttachmentRef:   strings.TrimSpace(d.AttachmentRef),
	}, nil
}

// NewRecord validates the draft and stamps it as created by actor at now.
func NewRecord(d Draft, id, actor string, now time.Time) (Record, error) {
	rec, err := ValidateForCreation(d)
	if err != nil {
		return Record{}, err
	}
	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
		return Record{}, &ValidationError{Code: ValidationInvalidExpiry}
	}
	if rec.ID == "" {
		rec.ID = id
	}
	rec.CreatedAt = now
	rec.AuditLog = []AuditEntry{{Action: "created", Actor: actorOrSystem(actor), Timestamp: now}}
	return rec, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "system"
	}
	return actor
}
