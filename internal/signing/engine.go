package signing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alijeyrad/keystone_backend/pkg/blob"
)

const instrumentationName = "github.com/Alijeyrad/keystone_backend/internal/signing"

const (
	dateLayout      = "January 2, 2006"
	auditTimeLayout = "2006-01-02 15:04:05 MST"
	keyTimeLayout   = "20060102T150405.000000000Z"
	initialsScale   = 0.8
)

type EngineOptions struct {
	KeyPrefix      string
	LegalStatement string
	UploadTimeout  time.Duration
	// UploadAttempts bounds retries of transient upload failures. The same
	// bytes are re-sent on every attempt.
	UploadAttempts int
	Now            func() time.Time
	Logger         *slog.Logger
}

// Engine stamps a signer's marks onto a PDF, appends an audit page, hashes
// the result and uploads it with its audit log.
type Engine struct {
	renderer Renderer
	store    blob.Store
	opts     EngineOptions
	log      *slog.Logger
	tracer   trace.Tracer
}

func NewEngine(renderer Renderer, store blob.Store, opts EngineOptions) *Engine {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "leases"
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 30 * time.Second
	}
	if opts.UploadAttempts <= 0 {
		opts.UploadAttempts = 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		renderer: renderer,
		store:    store,
		opts:     opts,
		log:      log,
		tracer:   otel.Tracer(instrumentationName),
	}
}

// Apply renders every field of in.Role and uploads the signed PDF and its
// audit log. Fields of other roles are left untouched.
func (e *Engine) Apply(ctx context.Context, in ApplyInput) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "signing.Apply", trace.WithAttributes(
		attribute.String("lease_id", in.LeaseID.String()),
		attribute.String("role", string(in.Role)),
	))
	defer span.End()

	res, err := e.apply(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("document_hash", res.DocumentHash))
	return res, nil
}

func (e *Engine) apply(ctx context.Context, in ApplyInput) (*Result, error) {
	if in.LeaseID == uuid.Nil {
		return nil, fmt.Errorf("%w: lease id is required", ErrInvalidField)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidField, in.Role)
	}
	if len(in.PDF) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrRender)
	}
	signedAt := in.Audit.SignedAt
	if signedAt.IsZero() {
		signedAt = e.opts.Now()
	}
	in.Audit.SignedAt = signedAt

	fields := ForRole(in.Fields, in.Role)
	m, err := decodeMarks(fields, in.Data)
	if err != nil {
		return nil, err
	}

	canvas, err := e.renderer.Open(in.PDF)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrRender, err)
	}

	drawn := make([]string, 0, len(fields))
	for _, f := range fields {
		ok, err := e.draw(canvas, f, m, in)
		if err != nil {
			return nil, err
		}
		if ok {
			drawn = append(drawn, f.Base().ID)
		}
	}

	if err := e.appendAuditPage(canvas, in, drawn); err != nil {
		return nil, err
	}

	pdf, err := canvas.Bytes(signedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize: %w", ErrRender, err)
	}
	sum := sha256.Sum256(pdf)
	hash := hex.EncodeToString(sum[:])

	audit := AuditLog{
		LeaseID:          in.LeaseID,
		Role:             in.Role,
		SignerName:       in.Data.SignerName,
		SignerEmail:      in.Data.SignerEmail,
		SignedAt:         signedAt.UTC(),
		IPAddress:        in.Audit.IPAddress,
		UserAgent:        in.Audit.UserAgent,
		ConsentStatement: e.opts.LegalStatement,
		DocumentHash:     hash,
		HashAlgorithm:    "SHA-256",
		FieldsApplied:    drawn,
	}
	auditJSON, err := audit.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal audit log: %w", err)
	}

	pdfKey, auditKey := e.objectKeys(in.LeaseID, in.Role, signedAt)
	pdfURL, err := e.upload(ctx, blob.Object{Key: pdfKey, Body: pdf, Kind: blob.KindDocument})
	if err != nil {
		return nil, err
	}
	auditURL, err := e.upload(ctx, blob.Object{Key: auditKey, Body: auditJSON, Kind: blob.KindText})
	if err != nil {
		return nil, err
	}

	e.log.Info("signing: document signed",
		slog.String("lease_id", in.LeaseID.String()),
		slog.String("role", string(in.Role)),
		slog.String("hash", hash),
		slog.Int("fields", len(drawn)),
	)

	return &Result{
		SignedPDFURL: pdfURL,
		AuditLogURL:  auditURL,
		SignedPDFKey: pdfKey,
		AuditLogKey:  auditKey,
		DocumentHash: hash,
		SignedAt:     signedAt,
		FieldsDrawn:  drawn,
	}, nil
}

// draw renders one field. It reports false for fields that have nothing to
// show, such as a text field without an answer.
func (e *Engine) draw(c Canvas, f Field, m marks, in ApplyInput) (bool, error) {
	p := f.Base()
	if p.Page > c.PageCount() {
		return false, fmt.Errorf("%w: field %s on page %d of a %d page document",
			ErrInvalidField, p.ID, p.Page, c.PageCount())
	}
	w, h := c.PageSize(p.Page)
	box := ToPoints(p, w, h)

	var err error
	switch f := f.(type) {
	case SignatureField:
		err = c.DrawImage(p.Page, *m.signature, fitImage(box, float64(m.signature.Width), float64(m.signature.Height)))
	case InitialField:
		if m.initials != nil {
			err = c.DrawImage(p.Page, *m.initials, fitImage(box, float64(m.initials.Width), float64(m.initials.Height)))
		} else {
			fit := fitImage(box, float64(m.signature.Width), float64(m.signature.Height))
			err = c.DrawImage(p.Page, *m.signature, shrink(fit, initialsScale))
		}
	case DateField:
		err = e.drawText(c, p.Page, box, in.Audit.SignedAt.Format(dateLayout))
	case NameField:
		err = e.drawText(c, p.Page, box, in.Data.SignerName)
	case TextField:
		value := strings.TrimSpace(in.Data.TextValues[f.ID])
		if value == "" {
			return false, nil
		}
		err = e.drawText(c, p.Page, box, value)
	default:
		return false, fmt.Errorf("%w: field %s: unsupported variant %T", ErrInvalidField, p.ID, f)
	}
	if err != nil {
		return false, fmt.Errorf("%w: field %s: %w", ErrRender, p.ID, err)
	}
	return true, nil
}

func (e *Engine) drawText(c Canvas, page int, box Rect, text string) error {
	size, baseline := textMetrics(box)
	return c.DrawText(page, text, box.X, baseline, size)
}

const (
	auditMargin     = 50.0
	auditTitleSize  = 16.0
	auditBodySize   = 10.0
	auditLineHeight = 16.0
	auditWrapChars  = 95
)

// appendAuditPage adds a page sized like the document's last page that
// records who signed, when and from where.
func (e *Engine) appendAuditPage(c Canvas, in ApplyInput, drawn []string) error {
	w, h := c.PageSize(c.PageCount())
	page := c.AddPage(w, h)

	y := h - auditMargin
	if err := c.DrawText(page, "Electronic Signature Certificate", auditMargin, y, auditTitleSize); err != nil {
		return fmt.Errorf("%w: audit page: %w", ErrRender, err)
	}
	y -= auditLineHeight * 2

	signer := in.Data.SignerName
	if in.Data.SignerEmail != "" {
		signer += " <" + in.Data.SignerEmail + ">"
	}
	lines := []string{
		"Lease: " + in.LeaseID.String(),
		"Signer: " + signer,
		"Role: " + string(in.Role),
		"Signed at: " + in.Audit.SignedAt.UTC().Format(auditTimeLayout),
		"IP address: " + orUnknown(in.Audit.IPAddress),
		"User agent: " + orUnknown(in.Audit.UserAgent),
		fmt.Sprintf("Fields applied: %d", len(drawn)),
		"",
	}
	if e.opts.LegalStatement != "" {
		lines = append(lines, wrap(e.opts.LegalStatement, auditWrapChars)...)
	}

	for _, line := range lines {
		if line != "" {
			if err := c.DrawText(page, line, auditMargin, y, auditBodySize); err != nil {
				return fmt.Errorf("%w: audit page: %w", ErrRender, err)
			}
		}
		y -= auditLineHeight
		if y < auditMargin {
			break
		}
	}
	return nil
}

func (e *Engine) objectKeys(leaseID uuid.UUID, role Role, at time.Time) (pdfKey, auditKey string) {
	base := path.Join(e.opts.KeyPrefix, leaseID.String(),
		fmt.Sprintf("%s-%s", at.UTC().Format(keyTimeLayout), role))
	return base + "-signed.pdf", base + "-audit.json"
}

func (e *Engine) upload(ctx context.Context, obj blob.Object) (string, error) {
	var last error
	for attempt := 1; attempt <= e.opts.UploadAttempts; attempt++ {
		uctx, cancel := context.WithTimeout(ctx, e.opts.UploadTimeout)
		url, err := e.store.Put(uctx, obj)
		cancel()
		if err == nil {
			return url, nil
		}

		last = classifyUpload(obj.Key, err)
		if !IsRetryable(last) || ctx.Err() != nil {
			break
		}
		e.log.Warn("signing: upload failed, retrying",
			slog.String("key", obj.Key),
			slog.Int("attempt", attempt),
			slog.Any("err", err),
		)
	}
	e.log.Error("signing: upload failed", slog.String("key", obj.Key), slog.Any("err", last))
	return "", last
}

func classifyUpload(key string, err error) error {
	if errors.Is(err, blob.ErrUnauthorized) {
		return &StorageError{Key: key, Err: fmt.Errorf("%w: %w", ErrStorageAuthFailure, err)}
	}
	return &StorageError{Key: key, Retryable: true, Err: fmt.Errorf("%w: %w", ErrStorageUploadFailure, err)}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

// wrap breaks text into lines of at most width characters on word
// boundaries.
func wrap(text string, width int) []string {
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
