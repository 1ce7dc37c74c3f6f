package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

var ErrDocumentExists = errors.New("lease document already exists")

var documentColumns = []string{
	"lease_id", "template_id", "property_id", "current_pdf_key", "current_pdf_url",
	"version", "fields", "signatures", "created_at", "updated_at",
}

type documentRow struct {
	LeaseID       uuid.UUID `db:"lease_id"`
	TemplateID    uuid.UUID `db:"template_id"`
	PropertyID    uuid.UUID `db:"property_id"`
	CurrentPDFKey string    `db:"current_pdf_key"`
	CurrentPDFURL string    `db:"current_pdf_url"`
	Version       int       `db:"version"`
	Fields        []byte    `db:"fields"`
	Signatures    []byte    `db:"signatures"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r documentRow) toDomain() (*signing.LeaseDocument, error) {
	d := &signing.LeaseDocument{
		LeaseID:       r.LeaseID,
		TemplateID:    r.TemplateID,
		PropertyID:    r.PropertyID,
		CurrentPDFKey: r.CurrentPDFKey,
		CurrentPDFURL: r.CurrentPDFURL,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Fields, &d.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of lease %s: %w", r.LeaseID, err)
	}
	if err := json.Unmarshal(r.Signatures, &d.Signatures); err != nil {
		return nil, fmt.Errorf("decode signatures of lease %s: %w", r.LeaseID, err)
	}
	return d, nil
}

type DocumentRepo struct{ s *Store }

func (s *Store) Documents() *DocumentRepo { return &DocumentRepo{s: s} }

func (r *DocumentRepo) CreateDocument(ctx context.Context, doc *signing.LeaseDocument) error {
	fields := doc.Fields
	if fields == nil {
		fields = []signing.FieldSpec{}
	}
	fb, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	q := builder().Insert(tableDocuments).
		Columns(documentColumns...).
		Values(doc.LeaseID, doc.TemplateID, doc.PropertyID, doc.CurrentPDFKey, doc.CurrentPDFURL, doc.Version,
			string(fb), "[]", doc.CreatedAt, doc.UpdatedAt)
	if _, err := r.s.exec(ctx, q); err != nil {
		if pqCode(err) == codeUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDocumentExists, doc.LeaseID)
		}
		return fmt.Errorf("insert lease document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetDocument(ctx context.Context, leaseID uuid.UUID) (*signing.LeaseDocument, error) {
	q := builder().Select(documentColumns...).
		From(entsql.Table(tableDocuments)).
		Where(entsql.EQ("lease_id", leaseID))

	var row documentRow
	if err := r.s.getOne(ctx, &row, q, signing.ErrDocumentNotFound); err != nil {
		return nil, err
	}
	return row.toDomain()
}

const advanceDocumentSQL = `
	UPDATE lease_documents
	SET version = version + 1,
	    current_pdf_key = $3,
	    current_pdf_url = $4,
	    signatures = signatures || $5::jsonb,
	    updated_at = $6
	WHERE lease_id = $1 AND version = $2
	RETURNING lease_id, template_id, property_id, current_pdf_key, current_pdf_url, version, fields, signatures, created_at, updated_at
`

// AdvanceDocument appends rec and bumps the version, but only while the row
// is still at fromVersion. A lost race reports ErrStaleDocument.
func (r *DocumentRepo) AdvanceDocument(ctx context.Context, leaseID uuid.UUID, fromVersion int, rec signing.SignatureRecord) (*signing.LeaseDocument, error) {
	rb, err := json.Marshal([]signing.SignatureRecord{rec})
	if err != nil {
		return nil, fmt.Errorf("encode signature: %w", err)
	}

	var row documentRow
	err = r.s.getOne(ctx, &row, rawQuery{advanceDocumentSQL, []any{leaseID, fromVersion, rec.SignedPDFKey, rec.SignedPDFURL, string(rb), rec.SignedAt}}, errNoRow)
	switch {
	case err == nil:
		return row.toDomain()
	case errors.Is(err, errNoRow):
		if _, getErr := r.GetDocument(ctx, leaseID); getErr != nil {
			return nil, getErr
		}
		return nil, signing.ErrStaleDocument
	default:
		return nil, fmt.Errorf("advance lease document: %w", err)
	}
}

var errNoRow = errors.New("no row")

// rawQuery lets hand-written statements go through the same helpers as the
// builder output.
type rawQuery struct {
	sql  string
	args []any
}

func (q rawQuery) Query() (string, []any) { return q.sql, q.args }
