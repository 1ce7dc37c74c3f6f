package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/Alijeyrad/keystone_backend/internal/lease"
	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

var templateColumns = []string{
	"id", "landlord_id", "name", "type", "is_default", "builder_config",
	"pdf_url", "signature_fields", "merge_fields", "created_at", "updated_at",
}

type templateRow struct {
	ID              uuid.UUID `db:"id"`
	LandlordID      uuid.UUID `db:"landlord_id"`
	Name            string    `db:"name"`
	Type            string    `db:"type"`
	IsDefault       bool      `db:"is_default"`
	BuilderConfig   []byte    `db:"builder_config"`
	PDFURL          *string   `db:"pdf_url"`
	SignatureFields []byte    `db:"signature_fields"`
	MergeFields     []byte    `db:"merge_fields"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r templateRow) toDomain() (*lease.LeaseTemplate, error) {
	t := &lease.LeaseTemplate{
		ID:         r.ID,
		LandlordID: r.LandlordID,
		Name:       r.Name,
		Type:       lease.TemplateType(r.Type),
		IsDefault:  r.IsDefault,
		PDFURL:     r.PDFURL,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.BuilderConfig) > 0 {
		t.BuilderConfig = &lease.BuilderConfig{}
		if err := json.Unmarshal(r.BuilderConfig, t.BuilderConfig); err != nil {
			return nil, fmt.Errorf("decode builder config of template %s: %w", r.ID, err)
		}
	}
	if err := json.Unmarshal(r.SignatureFields, &t.SignatureFields); err != nil {
		return nil, fmt.Errorf("decode signature fields of template %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.MergeFields, &t.MergeFields); err != nil {
		return nil, fmt.Errorf("decode merge fields of template %s: %w", r.ID, err)
	}
	return t, nil
}

type templateJSON struct {
	builderConfig   *string
	signatureFields string
	mergeFields     string
}

func encodeTemplate(t *lease.LeaseTemplate) (templateJSON, error) {
	var out templateJSON
	if t.BuilderConfig != nil {
		b, err := json.Marshal(t.BuilderConfig)
		if err != nil {
			return out, fmt.Errorf("encode builder config: %w", err)
		}
		s := string(b)
		out.builderConfig = &s
	}
	fields := t.SignatureFields
	if fields == nil {
		fields = []signing.FieldSpec{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return out, fmt.Errorf("encode signature fields: %w", err)
	}
	out.signatureFields = string(b)

	merge := t.MergeFields
	if merge == nil {
		merge = []lease.MergeField{}
	}
	if b, err = json.Marshal(merge); err != nil {
		return out, fmt.Errorf("encode merge fields: %w", err)
	}
	out.mergeFields = string(b)
	return out, nil
}

type TemplateRepo struct{ s *Store }

func (s *Store) Templates() *TemplateRepo { return &TemplateRepo{s: s} }

func (r *TemplateRepo) CreateTemplate(ctx context.Context, t *lease.LeaseTemplate) error {
	enc, err := encodeTemplate(t)
	if err != nil {
		return err
	}
	q := builder().Insert(tableTemplates).
		Columns(templateColumns...).
		Values(t.ID, t.LandlordID, t.Name, string(t.Type), t.IsDefault, enc.builderConfig,
			t.PDFURL, enc.signatureFields, enc.mergeFields, t.CreatedAt, t.UpdatedAt)
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *TemplateRepo) UpdateTemplate(ctx context.Context, t *lease.LeaseTemplate) error {
	enc, err := encodeTemplate(t)
	if err != nil {
		return err
	}
	q := builder().Update(tableTemplates).
		Set("name", t.Name).
		Set("is_default", t.IsDefault).
		Set("builder_config", enc.builderConfig).
		Set("pdf_url", t.PDFURL).
		Set("signature_fields", enc.signatureFields).
		Set("merge_fields", enc.mergeFields).
		Set("updated_at", t.UpdatedAt).
		Where(entsql.EQ("id", t.ID))
	n, err := r.s.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if n == 0 {
		return lease.ErrTemplateNotFound
	}
	return nil
}

func (r *TemplateRepo) GetTemplate(ctx context.Context, id uuid.UUID) (*lease.LeaseTemplate, error) {
	q := builder().Select(templateColumns...).
		From(entsql.Table(tableTemplates)).
		Where(entsql.EQ("id", id))

	var row templateRow
	if err := r.s.getOne(ctx, &row, q, lease.ErrTemplateNotFound); err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (r *TemplateRepo) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	n, err := r.s.exec(ctx, builder().Delete(tableTemplates).Where(entsql.EQ("id", id)))
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n == 0 {
		return lease.ErrTemplateNotFound
	}
	return nil
}

func (r *TemplateRepo) ListTemplates(ctx context.Context, landlordID uuid.UUID) ([]*lease.LeaseTemplate, error) {
	return r.list(ctx, entsql.EQ("landlord_id", landlordID))
}

func (r *TemplateRepo) DefaultTemplates(ctx context.Context, landlordID uuid.UUID) ([]*lease.LeaseTemplate, error) {
	return r.list(ctx, entsql.And(entsql.EQ("landlord_id", landlordID), entsql.EQ("is_default", true)))
}

func (r *TemplateRepo) ClearDefault(ctx context.Context, landlordID, exceptID uuid.UUID) error {
	q := builder().Update(tableTemplates).
		Set("is_default", false).
		Where(entsql.And(
			entsql.EQ("landlord_id", landlordID),
			entsql.EQ("is_default", true),
			entsql.NEQ("id", exceptID),
		))
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("clear default templates: %w", err)
	}
	return nil
}

func (r *TemplateRepo) list(ctx context.Context, where *entsql.Predicate) ([]*lease.LeaseTemplate, error) {
	q := builder().Select(templateColumns...).
		From(entsql.Table(tableTemplates)).
		Where(where).
		OrderBy("created_at", "id")

	var rows []templateRow
	if err := r.s.selectAll(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]*lease.LeaseTemplate, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Assignments
// ---------------------------------------------------------------------------

type assignmentRow struct {
	PropertyID uuid.UUID `db:"property_id"`
	TemplateID uuid.UUID `db:"template_id"`
	CreatedAt  time.Time `db:"created_at"`
}

type AssignmentRepo struct{ s *Store }

func (s *Store) Assignments() *AssignmentRepo { return &AssignmentRepo{s: s} }

func (r *AssignmentRepo) GetAssignment(ctx context.Context, propertyID uuid.UUID) (*lease.Assignment, error) {
	q := builder().Select("property_id", "template_id", "created_at").
		From(entsql.Table(tableAssignments)).
		Where(entsql.EQ("property_id", propertyID))

	var row assignmentRow
	if err := r.s.getOne(ctx, &row, q, lease.ErrNotFound); err != nil {
		return nil, err
	}
	return &lease.Assignment{PropertyID: row.PropertyID, TemplateID: row.TemplateID, CreatedAt: row.CreatedAt}, nil
}

// ReplaceAssignment points the property at templateID, replacing any previous
// assignment.
func (r *AssignmentRepo) ReplaceAssignment(ctx context.Context, propertyID, templateID uuid.UUID) error {
	q := builder().Insert(tableAssignments).
		Columns("property_id", "template_id", "created_at").
		Values(propertyID, templateID, r.s.now()).
		OnConflict(entsql.ConflictColumns("property_id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("replace assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepo) DeleteAssignmentsByTemplate(ctx context.Context, templateID uuid.UUID) error {
	if _, err := r.s.exec(ctx, builder().Delete(tableAssignments).Where(entsql.EQ("template_id", templateID))); err != nil {
		return fmt.Errorf("delete assignments: %w", err)
	}
	return nil
}
