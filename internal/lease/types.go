package lease

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

type TemplateType string

const (
	TypeBuilder     TemplateType = "builder"
	TypeUploadedPDF TemplateType = "uploaded_pdf"
)

func (t TemplateType) Valid() bool {
	return t == TypeBuilder || t == TypeUploadedPDF
}

// BuilderConfig holds the structured lease terms of a builder template.
// Headings and bodies may carry {{key}} merge placeholders.
type BuilderConfig struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// MergeField binds a {{Key}} placeholder to a value supplied at composition
// time.
type MergeField struct {
	Key          string `json:"key"`
	Label        string `json:"label,omitempty"`
	DefaultValue string `json:"default_value,omitempty"`
	Required     bool   `json:"required"`
}

type LeaseTemplate struct {
	ID              uuid.UUID
	LandlordID      uuid.UUID
	Name            string
	Type            TemplateType
	IsDefault       bool
	BuilderConfig   *BuilderConfig
	PDFURL          *string
	SignatureFields []signing.FieldSpec
	MergeFields     []MergeField
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Assignment ties a property to exactly one template.
type Assignment struct {
	PropertyID uuid.UUID
	TemplateID uuid.UUID
	CreatedAt  time.Time
}

var mergeKeyRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks the shape rules that depend on the template type.
func (t *LeaseTemplate) Validate() error {
	vErr := &ValidationError{}
	if strings.TrimSpace(t.Name) == "" {
		vErr.add("name", "is required")
	}
	switch t.Type {
	case TypeBuilder:
		if t.BuilderConfig == nil {
			vErr.add("builder_config", "is required for builder templates")
		}
		if t.PDFURL != nil {
			vErr.add("pdf_url", "must be empty for builder templates")
		}
	case TypeUploadedPDF:
		if t.PDFURL == nil || strings.TrimSpace(*t.PDFURL) == "" {
			vErr.add("pdf_url", "is required for uploaded_pdf templates")
		}
		if t.BuilderConfig != nil {
			vErr.add("builder_config", "must be empty for uploaded_pdf templates")
		}
		if len(t.MergeFields) > 0 {
			vErr.add("merge_fields", "only apply to builder templates")
		}
	default:
		vErr.add("type", fmt.Sprintf("unknown template type %q", t.Type))
	}

	if _, err := signing.DecodeFields(t.SignatureFields); err != nil {
		vErr.add("signature_fields", err.Error())
	}

	seen := make(map[string]struct{}, len(t.MergeFields))
	for i, mf := range t.MergeFields {
		if !mergeKeyRe.MatchString(mf.Key) {
			vErr.add(fmt.Sprintf("merge_fields[%d].key", i), "must be lower snake case")
			continue
		}
		if _, dup := seen[mf.Key]; dup {
			vErr.add(fmt.Sprintf("merge_fields[%d].key", i), "duplicate key "+mf.Key)
		}
		seen[mf.Key] = struct{}{}
	}

	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

// Clone returns a deep copy.
func (t *LeaseTemplate) Clone() *LeaseTemplate {
	c := *t
	if t.BuilderConfig != nil {
		bc := *t.BuilderConfig
		bc.Sections = append([]Section(nil), t.BuilderConfig.Sections...)
		c.BuilderConfig = &bc
	}
	if t.PDFURL != nil {
		u := *t.PDFURL
		c.PDFURL = &u
	}
	c.SignatureFields = append([]signing.FieldSpec(nil), t.SignatureFields...)
	c.MergeFields = append([]MergeField(nil), t.MergeFields...)
	return &c
}
