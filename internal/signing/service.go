package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alijeyrad/keystone_backend/pkg/blob"
)

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

type CreateDocumentRequest struct {
	LeaseID    uuid.UUID
	TemplateID uuid.UUID
	PropertyID uuid.UUID
	PDF        []byte
	Fields     []FieldSpec
}

// SubmitRequest is a signer's final submission. BaseVersion is the document
// version the signer loaded; the submission fails with ErrStaleDocument when
// another signature landed in between.
type SubmitRequest struct {
	LeaseID           uuid.UUID
	Role              Role
	BaseVersion       int
	CompletedFieldIDs []string
	Consent           bool
	Data              SigningData
	Audit             AuditMetadata
}

type SubmitResult struct {
	Result
	Document *LeaseDocument
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	CreateDocument(ctx context.Context, req CreateDocumentRequest) (*LeaseDocument, error)
	GetDocument(ctx context.Context, leaseID uuid.UUID) (*LeaseDocument, error)
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type ServiceOptions struct {
	FetchTimeout time.Duration
	KeyPrefix    string
	Now          func() time.Time
	Logger       *slog.Logger
}

type signingService struct {
	docs      DocumentRepository
	engine    *Engine
	store     blob.Store
	fetcher   Fetcher
	publisher Publisher
	opts      ServiceOptions
	log       *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics
}

func NewService(docs DocumentRepository, engine *Engine, store blob.Store, fetcher Fetcher, publisher Publisher, opts ServiceOptions) Service {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "leases"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &signingService{
		docs:      docs,
		engine:    engine,
		store:     store,
		fetcher:   fetcher,
		publisher: publisher,
		opts:      opts,
		log:       log,
		tracer:    engine.tracer,
		metrics:   newMetrics(log),
	}
}

// CreateDocument uploads the base PDF for a lease and records version 0.
func (s *signingService) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*LeaseDocument, error) {
	if req.LeaseID == uuid.Nil {
		return nil, fmt.Errorf("%w: lease id is required", ErrInvalidField)
	}
	if len(req.PDF) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrRender)
	}
	if _, err := DecodeFields(req.Fields); err != nil {
		return nil, err
	}

	now := s.opts.Now()
	key := fmt.Sprintf("%s/%s/%s-base.pdf", s.opts.KeyPrefix, req.LeaseID, now.UTC().Format(keyTimeLayout))
	url, err := s.store.Put(ctx, blob.Object{Key: key, Body: req.PDF, Kind: blob.KindDocument})
	if err != nil {
		return nil, classifyUpload(key, err)
	}

	doc := &LeaseDocument{
		LeaseID:       req.LeaseID,
		TemplateID:    req.TemplateID,
		PropertyID:    req.PropertyID,
		CurrentPDFKey: key,
		CurrentPDFURL: url,
		Fields:        req.Fields,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create lease document: %w", err)
	}
	return doc, nil
}

// GetDocument returns the document with a freshly issued CurrentPDFURL.
func (s *signingService) GetDocument(ctx context.Context, leaseID uuid.UUID) (*LeaseDocument, error) {
	doc, err := s.docs.GetDocument(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if doc.CurrentPDFKey == "" {
		return doc, nil
	}
	url, err := s.store.Link(ctx, doc.CurrentPDFKey)
	if err != nil {
		return nil, fmt.Errorf("link lease document %s: %w", leaseID, err)
	}
	doc.CurrentPDFURL = url
	return doc, nil
}

// Submit applies one role's signature. The flow is: completeness check, fetch
// of the current PDF, render and upload, then a version compare-and-swap so
// two signers never build on the same base.
func (s *signingService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "signing.Submit", trace.WithAttributes(
		attribute.String("lease_id", req.LeaseID.String()),
		attribute.String("role", string(req.Role)),
	))
	defer span.End()

	res, err := s.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("role", string(req.Role)),
			attribute.String("cause", failureCause(err)),
		))
		s.log.Warn("signing: submit rejected",
			slog.String("lease_id", req.LeaseID.String()),
			slog.String("role", string(req.Role)),
			slog.Bool("retryable", IsRetryable(err)),
			slog.Any("err", err),
		)
		return nil, err
	}
	s.metrics.signed.Add(ctx, 1, roleAttr(req.Role))
	return res, nil
}

func (s *signingService) submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidField, req.Role)
	}

	doc, err := s.docs.GetDocument(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	fields, err := DecodeFields(doc.Fields)
	if err != nil {
		return nil, err
	}

	session := RestoreSession(req.Role, req.CompletedFieldIDs, req.Consent)
	session.SignerName = req.Data.SignerName
	session.SignerEmail = req.Data.SignerEmail
	if err := session.Check(fields); err != nil {
		return nil, err
	}

	if doc.SignedBy(req.Role) {
		return nil, ErrAlreadySigned
	}
	if doc.Version != req.BaseVersion {
		return nil, fmt.Errorf("%w: have version %d, document is at %d", ErrStaleDocument, req.BaseVersion, doc.Version)
	}

	pdf, err := s.load(ctx, doc)
	if err != nil {
		return nil, err
	}

	if req.Audit.SignedAt.IsZero() {
		req.Audit.SignedAt = s.opts.Now()
	}
	res, err := s.engine.Apply(ctx, ApplyInput{
		LeaseID: req.LeaseID,
		Role:    req.Role,
		PDF:     pdf,
		Fields:  fields,
		Data:    req.Data,
		Audit:   req.Audit,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.docs.AdvanceDocument(ctx, req.LeaseID, doc.Version, SignatureRecord{
		Role:         req.Role,
		SignerName:   req.Data.SignerName,
		SignerEmail:  req.Data.SignerEmail,
		DocumentHash: res.DocumentHash,
		SignedPDFURL: res.SignedPDFURL,
		AuditLogURL:  res.AuditLogURL,
		SignedPDFKey: res.SignedPDFKey,
		AuditLogKey:  res.AuditLogKey,
		SignedAt:     res.SignedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("advance lease document: %w", err)
	}

	s.publisher.PublishSigned(ctx, SignedEvent{
		LeaseID:       updated.LeaseID,
		PropertyID:    updated.PropertyID,
		Role:          req.Role,
		SignerName:    req.Data.SignerName,
		SignerEmail:   req.Data.SignerEmail,
		DocumentHash:  res.DocumentHash,
		SignedPDFURL:  res.SignedPDFURL,
		Version:       updated.Version,
		FullyExecuted: updated.SignedBy(RoleTenant) && updated.SignedBy(RoleLandlord),
		SignedAt:      res.SignedAt,
	})

	return &SubmitResult{Result: *res, Document: updated}, nil
}

// load reads the current PDF from the store by key. Documents recorded
// without a key are downloaded from their URL.
func (s *signingService) load(ctx context.Context, doc *LeaseDocument) ([]byte, error) {
	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	var (
		pdf []byte
		err error
	)
	switch {
	case doc.CurrentPDFKey != "":
		pdf, err = s.store.Read(fctx, doc.CurrentPDFKey)
	case s.fetcher != nil:
		pdf, err = s.fetcher.Fetch(fctx, doc.CurrentPDFURL)
	default:
		err = fmt.Errorf("%w: no key or fetcher for %s", blob.ErrNotFound, doc.LeaseID)
	}
	if err == nil {
		return pdf, nil
	}
	if errors.Is(err, blob.ErrTimeout) || errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %w", ErrFetchTimeout, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrFetchFailure, err)
}
