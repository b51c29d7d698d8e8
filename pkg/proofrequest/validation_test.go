package proofrequest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() Draft {
	return Draft{
		Patient:         PatientRef{ID: "p-1", Name: "Ada Lovelace", Email: "ada@example.com"},
		Purpose:         PurposeReferral,
		RequestedFields: []string{"diagnoses", "allergies"},
		Urgency:         UrgencyHigh,
	}
}

func validationCode(t *testing.T, err error) ValidationCode {
	t.Helper()
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr), "expected ValidationError, got %v", err)
	return validationErr.Code
}

func TestValidateForCreationErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Draft)
		want   ValidationCode
	}{
		{"missing patient", func(d *Draft) { d.Patient = PatientRef{Name: "No Id"} }, ValidationMissingPatient},
		{"empty purpose", func(d *Draft) { d.Purpose = "  " }, ValidationEmptyPurpose},
		{"other without text", func(d *Draft) { d.Purpose = PurposeOther }, ValidationEmptyPurpose},
		{"no fields", func(d *Draft) { d.RequestedFields = nil }, ValidationNoFieldsSelected},
		{"blank fields", func(d *Draft) { d.RequestedFields = []string{" ", ""} }, ValidationNoFieldsSelected},
		{"bad urgency", func(d *Draft) { d.Urgency = "asap" }, ValidationInvalidUrgency},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDraft()
			tc.mutate(&d)
			_, err := ValidateForCreation(d)
			assert.Equal(t, tc.want, validationCode(t, err))
		})
	}
}

func TestValidateForCreationNormalizes(t *testing.T) {
	d := validDraft()
	d.Purpose = PurposeOther
	d.CustomPurpose = " Second opinion "
	d.RequestedFields = []string{"allergies", "diagnoses", "allergies", " diagnoses "}
	d.Urgency = ""

	rec, err := ValidateForCreation(d)
	require.NoError(t, err)
	assert.Equal(t, "Second opinion", rec.Purpose)
	assert.Equal(t, []string{"allergies", "diagnoses"}, rec.RequestedFields)
	assert.Equal(t, UrgencyNormal, rec.Urgency)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Empty(t, rec.AuditLog)
}

func TestNewRecordStampsCreation(t *testing.T) {
	rec, err := NewRecord(validDraft(), "req-1", "dr-grey", baseTime)
	require.NoError(t, err)
	assert.Equal(t, "req-1", rec.ID)
	assert.Equal(t, baseTime, rec.CreatedAt)
	require.Len(t, rec.AuditLog, 1)
	assert.Equal(t, AuditEntry{Action: "created", Actor: "dr-grey", Timestamp: baseTime}, rec.AuditLog[0])
}

func TestNewRecordRejectsPastExpiry(t *testing.T) {
	d := validDraft()
	past := baseTime.Add(-time.Minute)
	d.ExpiresAt = &past
	_, err := NewRecord(d, "req-1", "dr-grey", baseTime)
	assert.Equal(t, ValidationInvalidExpiry, validationCode(t, err))
}

func TestUrgencySLA(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, UrgencyLow.SLA())
	assert.Equal(t, 72*time.Hour, UrgencyNormal.SLA())
	assert.Equal(t, 24*time.Hour, UrgencyHigh.SLA())
	assert.Equal(t, 6*time.Hour, UrgencyUrgent.SLA())

	rec := withUrgency(pendingRecord("r1", 0), UrgencyUrgent)
	assert.Equal(t, baseTime.Add(6*time.Hour), rec.ResponseDueAt())
}
