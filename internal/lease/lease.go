package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

const instrumentationName = "github.com/Alijeyrad/keystone_backend/internal/lease"

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

type CreateTemplateRequest struct {
	LandlordID      uuid.UUID    `validate:"required"`
	Name            string       `validate:"required,max=200"`
	Type            TemplateType `validate:"required,oneof=builder uploaded_pdf"`
	IsDefault       bool
	BuilderConfig   *BuilderConfig
	PDFURL          *string `validate:"omitempty,url"`
	SignatureFields []signing.FieldSpec
	MergeFields     []MergeField
}

// UpdateTemplateRequest changes only the fields that are set. The template
// type is fixed at creation.
type UpdateTemplateRequest struct {
	Name            *string `validate:"omitempty,min=1,max=200"`
	IsDefault       *bool
	BuilderConfig   *BuilderConfig
	PDFURL          *string `validate:"omitempty,url"`
	SignatureFields *[]signing.FieldSpec
	MergeFields     *[]MergeField
}

type PrepareDocumentRequest struct {
	LeaseID    uuid.UUID `validate:"required"`
	PropertyID uuid.UUID `validate:"required"`
	LandlordID uuid.UUID `validate:"required"`
	// Values fill the merge fields of builder templates.
	Values map[string]string
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	// Resolution
	ResolveTemplateForProperty(ctx context.Context, propertyID, landlordID uuid.UUID) (*LeaseTemplate, error)

	// Templates
	CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*LeaseTemplate, error)
	UpdateTemplate(ctx context.Context, id uuid.UUID, req UpdateTemplateRequest) (*LeaseTemplate, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*LeaseTemplate, error)
	ListTemplates(ctx context.Context, landlordID uuid.UUID) ([]*LeaseTemplate, error)

	// Assignment
	AssignTemplateToProperties(ctx context.Context, templateID uuid.UUID, propertyIDs []uuid.UUID) error

	// Documents
	Compose(ctx context.Context, templateID uuid.UUID, values map[string]string) ([]byte, error)
	PrepareDocument(ctx context.Context, req PrepareDocumentRequest) (*signing.LeaseDocument, error)
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type Options struct {
	Now    func() time.Time
	NewID  func() uuid.UUID
	Logger *slog.Logger
}

type leaseService struct {
	templates   TemplateRepository
	assignments AssignmentRepository
	tx          Transactor
	composer    Composer
	fetcher     Fetcher
	documents   DocumentCreator

	now      func() time.Time
	newID    func() uuid.UUID
	log      *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

func New(templates TemplateRepository, assignments AssignmentRepository, tx Transactor, composer Composer, fetcher Fetcher, documents DocumentCreator, opts Options) Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() uuid.UUID {
			id, err := uuid.NewV7()
			if err != nil {
				return uuid.New()
			}
			return id
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &leaseService{
		templates:   templates,
		assignments: assignments,
		tx:          tx,
		composer:    composer,
		fetcher:     fetcher,
		documents:   documents,
		now:         opts.Now,
		newID:       opts.NewID,
		log:         opts.Logger.With(slog.String("component", "lease")),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		tracer:      otel.Tracer(instrumentationName),
	}
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// ResolveTemplateForProperty returns the property's assigned template, else
// the landlord's single default template. Zero or several defaults resolve
// to ErrNoTemplate.
func (s *leaseService) ResolveTemplateForProperty(ctx context.Context, propertyID, landlordID uuid.UUID) (*LeaseTemplate, error) {
	ctx, span := s.tracer.Start(ctx, "lease.ResolveTemplateForProperty", trace.WithAttributes(
		attribute.String("property_id", propertyID.String()),
		attribute.String("landlord_id", landlordID.String()),
	))
	defer span.End()

	a, err := s.assignments.GetAssignment(ctx, propertyID)
	switch {
	case err == nil:
		t, err := s.templates.GetTemplate(ctx, a.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("load assigned template: %w", err)
		}
		span.SetAttributes(attribute.String("resolved_by", "assignment"))
		return t, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("load assignment: %w", err)
	}

	defaults, err := s.templates.DefaultTemplates(ctx, landlordID)
	if err != nil {
		return nil, fmt.Errorf("load default templates: %w", err)
	}
	if len(defaults) != 1 {
		if len(defaults) > 1 {
			s.log.WarnContext(ctx, "several default templates, none resolved",
				slog.String("landlord_id", landlordID.String()),
				slog.Int("defaults", len(defaults)),
			)
		}
		return nil, ErrNoTemplate
	}
	span.SetAttributes(attribute.String("resolved_by", "default"))
	return defaults[0], nil
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

func (s *leaseService) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*LeaseTemplate, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	now := s.now()
	t := &LeaseTemplate{
		ID:              s.newID(),
		LandlordID:      req.LandlordID,
		Name:            req.Name,
		Type:            req.Type,
		IsDefault:       req.IsDefault,
		BuilderConfig:   req.BuilderConfig,
		PDFURL:          req.PDFURL,
		SignatureFields: req.SignatureFields,
		MergeFields:     req.MergeFields,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if t.IsDefault {
			if err := s.templates.ClearDefault(ctx, t.LandlordID, t.ID); err != nil {
				return fmt.Errorf("clear default: %w", err)
			}
		}
		return s.templates.CreateTemplate(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}

	s.log.InfoContext(ctx, "lease template created",
		slog.String("template_id", t.ID.String()),
		slog.String("landlord_id", t.LandlordID.String()),
		slog.String("type", string(t.Type)),
		slog.Bool("default", t.IsDefault),
	)
	return t, nil
}

func (s *leaseService) UpdateTemplate(ctx context.Context, id uuid.UUID, req UpdateTemplateRequest) (*LeaseTemplate, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	var out *LeaseTemplate
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.templates.GetTemplate(ctx, id)
		if err != nil {
			return err
		}

		if req.Name != nil {
			t.Name = *req.Name
		}
		if req.IsDefault != nil {
			t.IsDefault = *req.IsDefault
		}
		if req.BuilderConfig != nil {
			t.BuilderConfig = req.BuilderConfig
		}
		if req.PDFURL != nil {
			t.PDFURL = req.PDFURL
		}
		if req.SignatureFields != nil {
			t.SignatureFields = *req.SignatureFields
		}
		if req.MergeFields != nil {
			t.MergeFields = *req.MergeFields
		}
		if err := t.Validate(); err != nil {
			return err
		}
		t.UpdatedAt = s.now()

		if t.IsDefault {
			if err := s.templates.ClearDefault(ctx, t.LandlordID, t.ID); err != nil {
				return fmt.Errorf("clear default: %w", err)
			}
		}
		if err := s.templates.UpdateTemplate(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) || errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update template: %w", err)
	}
	return out, nil
}

// DeleteTemplate removes the template's property assignments before the
// template itself.
func (s *leaseService) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.templates.GetTemplate(ctx, id); err != nil {
			return err
		}
		if err := s.assignments.DeleteAssignmentsByTemplate(ctx, id); err != nil {
			return fmt.Errorf("delete assignments: %w", err)
		}
		return s.templates.DeleteTemplate(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return err
		}
		return fmt.Errorf("delete template: %w", err)
	}
	s.log.InfoContext(ctx, "lease template deleted", slog.String("template_id", id.String()))
	return nil
}

func (s *leaseService) GetTemplate(ctx context.Context, id uuid.UUID) (*LeaseTemplate, error) {
	return s.templates.GetTemplate(ctx, id)
}

func (s *leaseService) ListTemplates(ctx context.Context, landlordID uuid.UUID) ([]*LeaseTemplate, error) {
	out, err := s.templates.ListTemplates(ctx, landlordID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

// AssignTemplateToProperties replaces each property's assignment with the
// given template.
func (s *leaseService) AssignTemplateToProperties(ctx context.Context, templateID uuid.UUID, propertyIDs []uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.templates.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		for _, pid := range propertyIDs {
			if err := s.assignments.ReplaceAssignment(ctx, pid, templateID); err != nil {
				return fmt.Errorf("assign property %s: %w", pid, err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return err
		}
		return fmt.Errorf("assign template: %w", err)
	}
	s.log.InfoContext(ctx, "lease template assigned",
		slog.String("template_id", templateID.String()),
		slog.Int("properties", len(propertyIDs)),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

// Compose renders a builder template with the given merge values.
func (s *leaseService) Compose(ctx context.Context, templateID uuid.UUID, values map[string]string) ([]byte, error) {
	t, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.compose(ctx, t, values)
}

func (s *leaseService) compose(ctx context.Context, t *LeaseTemplate, values map[string]string) ([]byte, error) {
	if t.Type != TypeBuilder || t.BuilderConfig == nil {
		return nil, ErrNotBuilder
	}
	doc, err := merge(*t.BuilderConfig, t.MergeFields, values)
	if err != nil {
		return nil, err
	}
	pdf, err := s.composer.Compose(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("compose template %s: %w", t.ID, err)
	}
	return pdf, nil
}

// PrepareDocument snapshots the property's template into a new signing
// document: builder templates are composed, uploaded PDFs are fetched.
func (s *leaseService) PrepareDocument(ctx context.Context, req PrepareDocumentRequest) (*signing.LeaseDocument, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	t, err := s.ResolveTemplateForProperty(ctx, req.PropertyID, req.LandlordID)
	if err != nil {
		return nil, err
	}

	var pdf []byte
	switch t.Type {
	case TypeBuilder:
		pdf, err = s.compose(ctx, t, req.Values)
	case TypeUploadedPDF:
		pdf, err = s.fetcher.Fetch(ctx, *t.PDFURL)
		if err != nil {
			err = fmt.Errorf("fetch template pdf: %w", err)
		}
	default:
		err = fmt.Errorf("unknown template type %q", t.Type)
	}
	if err != nil {
		return nil, err
	}

	doc, err := s.documents.CreateDocument(ctx, signing.CreateDocumentRequest{
		LeaseID:    req.LeaseID,
		TemplateID: t.ID,
		PropertyID: req.PropertyID,
		PDF:        pdf,
		Fields:     t.SignatureFields,
	})
	if err != nil {
		return nil, fmt.Errorf("create signing document: %w", err)
	}
	s.log.InfoContext(ctx, "lease document prepared",
		slog.String("lease_id", req.LeaseID.String()),
		slog.String("template_id", t.ID.String()),
	)
	return doc, nil
}

func (s *leaseService) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	vErr := &ValidationError{}
	for _, fe := range fieldErrs {
		vErr.add(fe.Field(), "failed "+fe.Tag())
	}
	return vErr
}
