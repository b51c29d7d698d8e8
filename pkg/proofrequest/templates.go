package proofrequest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Template struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description" json:"description"`
	Purpose         string   `yaml:"purpose" json:"purpose"`
	RequestedFields []string `yaml:"requested_fields" json:"requestedFields"`
	Urgency         Urgency  `yaml:"urgency" json:"urgency"`
	Message         string   `yaml:"message" json:"message"`
}

type TemplatesConfig struct {
	Templates []Template `yaml:"templates" json:"templates"`
}

// TemplateOverrides replaces template defaults field by field. Nil fields
// keep the template value; a non-nil RequestedFields replaces the list even
// when empty.
type TemplateOverrides struct {
	Patient         *PatientRef `json:"patient,omitempty"`
	Purpose         *string     `json:"purpose,omitempty"`
	CustomPurpose   *string     `json:"customPurpose,omitempty"`
	RequestedFields []string    `json:"requestedFields,omitempty"`
	Urgency         *Urgency    `json:"urgency,omitempty"`
	Message         *string     `json:"message,omitempty"`
	AttachmentRef   *string     `json:"attachmentRef,omitempty"`
	ExpiresAt       *time.Time  `json:"expiresAt,omitempty"`
}

func LoadTemplates(path string) (TemplatesConfig, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultTemplates(), err
	}

	var cfg TemplatesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return TemplatesConfig{}, err
	}
	if len(cfg.Templates) == 0 {
		return TemplatesConfig{}, errors.New("no proof request templates configured")
	}
	return cfg, nil
}

func DefaultTemplates() TemplatesConfig {
	return TemplatesConfig{Templates: []Template{
		{
			ID:              "insurance-verification",
			Name:            "Insurance Verification",
			Description:     "Coverage and identity proof for a pending claim",
			Purpose:         PurposeInsuranceClaim,
			RequestedFields: []string{"full-name", "date-of-birth", "insurance-id", "coverage-status"},
			Urgency:         UrgencyNormal,
			Message:         "Please share your insurance details so we can process your claim.",
		},
		{
			ID:              "specialist-referral",
			Name:            "Specialist Referral",
			Description:     "Clinical summary needed before a referral is accepted",
			Purpose:         PurposeReferral,
			RequestedFields: []string{"full-name", "diagnoses", "medications", "allergies"},
			Urgency:         UrgencyHigh,
			Message:         "Your referral requires a verified summary of your current conditions.",
		},
		{
			ID:              "vaccination-status",
			Name:            "Vaccination Status",
			Description:     "Immunization history proof",
			Purpose:         PurposeConsultation,
			RequestedFields: []string{"full-name", "immunizations"},
			Urgency:         UrgencyLow,
			Message:         "Please confirm your vaccination history ahead of your visit.",
		},
		{
			ID:              "lab-results",
			Name:            "Recent Lab Results",
			Description:     "Latest laboratory results for a consultation",
			Purpose:         PurposeConsultation,
			RequestedFields: []string{"full-name", "lab-results"},
			Urgency:         UrgencyUrgent,
			Message:         "We need your most recent lab results before your consultation.",
		},
	}}
}

// TemplateCatalog resolves templates by id.
type TemplateCatalog struct {
	order []string
	byID  map[string]Template
}

func NewTemplateCatalog(cfg TemplatesConfig) (*TemplateCatalog, error) {
	c := &TemplateCatalog{byID: make(map[string]Template, len(cfg.Templates))}
	for _, t := range cfg.Templates {
		if t.ID == "" {
			return nil, errors.New("template id is required")
		}
		if _, ok := c.byID[t.ID]; ok {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		if t.Urgency != "" && !t.Urgency.Valid() {
			return nil, fmt.Errorf("template %q: unknown urgency %q", t.ID, t.Urgency)
		}
		c.order = append(c.order, t.ID)
		c.byID[t.ID] = t
	}
	return c, nil
}

func (c *TemplateCatalog) List() []Template {
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Expand builds a draft from the template's defaults with overrides applied.
// The draft still has to pass ValidateForCreation.
func (c *TemplateCatalog) Expand(templateID string, overrides TemplateOverrides) (Draft, error) {
	t, ok := c.byID[templateID]
	if !ok {
		return Draft{}, ErrTemplateNotFound
	}

	d := Draft{
		Purpose:         t.Purpose,
		RequestedFields: append([]string(nil), t.RequestedFields...),
		Urgency:         t.Urgency,
		Message:         t.Message,
	}
	if overrides.Patient != nil {
		d.Patient = *overrides.Patient
	}
	if overrides.Purpose != nil {
		d.Purpose = *overrides.Purpose
	}
	if overrides.CustomPurpose != nil {
		d.CustomPurpose = *overrides.CustomPurpose
	}
	if overrides.RequestedFields != nil {
		d.RequestedFields = append([]string{}, overrides.RequestedFields...)
	}
	if overrides.Urgency != nil {
		d.Urgency = *overrides.Urgency
	}
	if overrides.Message != nil {
		d.Message = *overrides.Message
	}
	if overrides.AttachmentRef != nil {
		d.AttachmentRef = *overrides.AttachmentRef
	}
	if overrides.ExpiresAt != nil {
		expires := *overrides.ExpiresAt
		d.ExpiresAt = &expires
	}
	return d, nil
}
