package proofrequest

import (
	"time"
)

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// pendingRecord builds a stored record created n minutes after baseTime.
func pendingRecord(id string, n int) Record {
	created := baseTime.Add(time.Duration(n) * time.Minute)
	return Record{
		ID:              id,
		Patient:         PatientRef{ID: "patient-" + id, Name: "Patient " + id, Email: id + "@example.com"},
		Purpose:         PurposeConsultation,
		RequestedFields: []string{"full-name"},
		Urgency:         UrgencyNormal,
		Status:          StatusPending,
		CreatedAt:       created,
		AuditLog:        []AuditEntry{{Action: "created", Actor: "dr-grey", Timestamp: created}},
	}
}

func withStatus(r Record, s Status) Record {
	r.Status = s
	return r
}

func withUrgency(r Record, u Urgency) Record {
	r.Urgency = u
	return r
}

func withExpiry(r Record, at time.Time) Record {
	r.ExpiresAt = &at
	return r
}

func viewIDs(views []View) []string {
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}
