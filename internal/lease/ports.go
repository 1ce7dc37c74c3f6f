package lease

import (
	"context"

	"github.com/google/uuid"

	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

// TemplateRepository persists templates. Get, Update and Delete report
// missing rows with ErrTemplateNotFound.
type TemplateRepository interface {
	CreateTemplate(ctx context.Context, t *LeaseTemplate) error
	UpdateTemplate(ctx context.Context, t *LeaseTemplate) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*LeaseTemplate, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
	ListTemplates(ctx context.Context, landlordID uuid.UUID) ([]*LeaseTemplate, error)
	// ClearDefault unsets IsDefault on every template of the landlord except
	// exceptID.
	ClearDefault(ctx context.Context, landlordID, exceptID uuid.UUID) error
	DefaultTemplates(ctx context.Context, landlordID uuid.UUID) ([]*LeaseTemplate, error)
}

// AssignmentRepository keeps at most one template per property.
type AssignmentRepository interface {
	GetAssignment(ctx context.Context, propertyID uuid.UUID) (*Assignment, error)
	ReplaceAssignment(ctx context.Context, propertyID, templateID uuid.UUID) error
	DeleteAssignmentsByTemplate(ctx context.Context, templateID uuid.UUID) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Composer renders a builder template into a PDF.
type Composer interface {
	Compose(ctx context.Context, doc ComposedDocument) ([]byte, error)
}

// ComposedDocument is a builder template after merge substitution.
type ComposedDocument struct {
	Title    string
	Sections []Section
}

// Fetcher downloads uploaded template PDFs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DocumentCreator starts the signing document for a lease.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, req signing.CreateDocumentRequest) (*signing.LeaseDocument, error)
}
