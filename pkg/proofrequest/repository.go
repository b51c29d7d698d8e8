package proofrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type proofRequestModel struct {
	ID              string         `gorm:"primaryKey;column:id"`
	PatientID       string         `gorm:"column:patient_id;index"`
	PatientName     string         `gorm:"column:patient_name"`
	PatientEmail    string         `gorm:"column:patient_email"`
	Purpose         string         `gorm:"column:purpose"`
	RequestedFields datatypes.JSON `gorm:"column:requested_fields"`
	Urgency         string         `gorm:"column:urgency;index"`
	Status          string         `gorm:"column:status;index"`
	ExpiresAt       *time.Time     `gorm:"column:expires_at"`
	Message         string         `gorm:"column:message"`
	AttachmentRef   string         `gorm:"column:attachment_ref"`
	LastSentAt      *time.Time     `gorm:"column:last_sent_at"`
	DenyReason      string         `gorm:"column:deny_reason"`
	AuditLog        datatypes.JSON `gorm:"column:audit_log"`
	CreatedAt       time.Time      `gorm:"column:created_at;index"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (proofRequestModel) TableName() string { return "proof_requests" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&proofRequestModel{})
}

func (r *Repository) List(ctx context.Context) ([]Record, error) {
	var rows []proofRequestModel
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list proof requests: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for i := range rows {
		rec, err := buildRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	var row proofRequestModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get proof request %s: %w", id, err)
	}
	return buildRecord(&row)
}

func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	var existing int64
	if err := r.db.WithContext(ctx).Model(&proofRequestModel{}).Where("id = ?", rec.ID).Count(&existing).Error; err != nil {
		return Record{}, fmt.Errorf("check proof request id: %w", err)
	}
	if existing > 0 {
		return Record{}, ErrDuplicateID
	}

	row, err := buildModel(rec)
	if err != nil {
		return Record{}, err
	}
	row.UpdatedAt = rec.CreatedAt
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return Record{}, fmt.Errorf("create proof request: %w", err)
	}
	return buildRecord(row)
}

// ApplyTransition locks the row for the duration of the transaction so two
// transitions on the same id cannot interleave.
func (r *Repository) ApplyTransition(ctx context.Context, id string, t Transition) (Record, error) {
	var next Record
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row proofRequestModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		current, err := buildRecord(&row)
		if err != nil {
			return err
		}
		next, err = Apply(current, t)
		if err != nil {
			return err
		}

		audit, err := json.Marshal(next.AuditLog)
		if err != nil {
			return err
		}
		return tx.Model(&proofRequestModel{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":       string(next.Status),
			"last_sent_at": next.LastSentAt,
			"deny_reason":  next.DenyReason,
			"audit_log":    datatypes.JSON(audit),
			"updated_at":   t.At,
		}).Error
	})
	if err != nil {
		return Record{}, err
	}
	return next, nil
}

// BulkApplyTransition runs one transaction per id.
func (r *Repository) BulkApplyTransition(ctx context.Context, ids []string, t Transition) ([]TransitionResult, error) {
	return bulkApplyEach(ctx, ids, t, r.ApplyTransition), nil
}

func buildModel(rec Record) (*proofRequestModel, error) {
	fields, err := json.Marshal(rec.RequestedFields)
	if err != nil {
		return nil, err
	}
	audit, err := json.Marshal(rec.AuditLog)
	if err != nil {
		return nil, err
	}
	return &proofRequestModel{
		ID:              rec.ID,
		PatientID:       rec.Patient.ID,
		PatientName:     rec.Patient.Name,
		PatientEmail:    rec.Patient.Email,
		Purpose:         rec.Purpose,
		RequestedFields: datatypes.JSON(fields),
		Urgency:         string(rec.Urgency),
		Status:          string(rec.Status),
		ExpiresAt:       rec.ExpiresAt,
		Message:         rec.Message,
		AttachmentRef:   rec.AttachmentRef,
		LastSentAt:      rec.LastSentAt,
		DenyReason:      rec.DenyReason,
		AuditLog:        datatypes.JSON(audit),
		CreatedAt:       rec.CreatedAt,
	}, nil
}

func buildRecord(row *proofRequestModel) (Record, error) {
	rec := Record{
		ID: row.ID,
		Patient: PatientRef{
			ID:    row.PatientID,
			Name:  row.PatientName,
			Email: row.PatientEmail,
		},
		Purpose:       row.Purpose,
		Urgency:       Urgency(row.Urgency),
		Status:        Status(row.Status),
		CreatedAt:     row.CreatedAt,
		ExpiresAt:     row.ExpiresAt,
		Message:       row.Message,
		AttachmentRef: row.AttachmentRef,
		LastSentAt:    row.LastSentAt,
		DenyReason:    row.DenyReason,
	}
	if len(row.RequestedFields) > 0 {
		if err := json.Unmarshal(row.RequestedFields, &rec.RequestedFields); err != nil {
			return Record{}, fmt.Errorf("decode requested fields of %s: %w", row.ID, err)
		}
	}
	if len(row.AuditLog) > 0 {
		if err := json.Unmarshal(row.AuditLog, &rec.AuditLog); err != nil {
			return Record{}, fmt.Errorf("decode audit log of %s: %w", row.ID, err)
		}
	}
	return rec, nil
}
