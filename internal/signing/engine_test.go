package signing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincent-petithory/dataurl"

	"github.com/Alijeyrad/keystone_backend/internal/pdfdoc"
	"github.com/Alijeyrad/keystone_backend/internal/signing"
	"github.com/Alijeyrad/keystone_backend/pkg/blob"
)

var signedAt = time.Date(2026, time.October, 15, 14, 30, 0, 0, time.UTC)

func basePDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", Size: gofpdf.SizeType{Wd: 612, Ht: 792}})
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	pdf.SetModificationDate(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "", 12)
		pdf.Text(72, 72, fmt.Sprintf("Residential lease, page %d", i+1))
	}
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

// signaturePNG draws a dark stroke on white. flip changes exactly one pixel.
func signaturePNG(t *testing.T, flip bool) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.White)
		}
	}
	for x := 10; x < 110; x++ {
		img.Set(x, 20+(x%7)-3, color.Black)
	}
	if flip {
		img.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return dataurl.New(buf.Bytes(), "image/png").String()
}

func tenantFields(t *testing.T) []signing.Field {
	t.Helper()
	fields, err := signing.DecodeFields(tenantSpecs())
	require.NoError(t, err)
	return fields
}

func tenantSpecs() []signing.FieldSpec {
	return []signing.FieldSpec{
		{ID: "tenant-signature", Type: signing.FieldSignature, Role: signing.RoleTenant, Page: 1, X: 10, Y: 80, Width: 30, Height: 6, Required: true},
		{ID: "tenant-date", Type: signing.FieldDate, Role: signing.RoleTenant, Page: 1, X: 60, Y: 80, Width: 25, Height: 4, Required: true},
		{ID: "tenant-initials", Type: signing.FieldInitial, Role: signing.RoleTenant, Page: 2, X: 85, Y: 90, Width: 10, Height: 5},
		{ID: "tenant-name", Type: signing.FieldName, Role: signing.RoleTenant, Page: 2, X: 10, Y: 90, Width: 30, Height: 4},
		{ID: "landlord-signature", Type: signing.FieldSignature, Role: signing.RoleLandlord, Page: 2, X: 10, Y: 70, Width: 30, Height: 6, Required: true},
	}
}

// failingStore fails the first n puts with err.
type failingStore struct {
	*blob.MemoryStore
	mu    sync.Mutex
	n     int
	err   error
	calls int
}

func (s *failingStore) Put(ctx context.Context, obj blob.Object) (string, error) {
	s.mu.Lock()
	s.calls++
	fail := s.n > 0
	if fail {
		s.n--
	}
	s.mu.Unlock()
	if fail {
		return "", s.err
	}
	return s.MemoryStore.Put(ctx, obj)
}

func newEngine(store blob.Store) *signing.Engine {
	return signing.NewEngine(pdfdoc.NewRenderer(0), store, signing.EngineOptions{
		LegalStatement: "By signing electronically the signer agrees this signature is legally binding.",
		UploadTimeout:  5 * time.Second,
	})
}

func applyInput(t *testing.T, pdf []byte, leaseID uuid.UUID, flip bool) signing.ApplyInput {
	return signing.ApplyInput{
		LeaseID: leaseID,
		Role:    signing.RoleTenant,
		PDF:     pdf,
		Fields:  tenantFields(t),
		Data: signing.SigningData{
			SignerName:     "Sam Tenant",
			SignerEmail:    "sam@example.com",
			SignatureImage: signaturePNG(t, flip),
		},
		Audit: signing.AuditMetadata{IPAddress: "203.0.113.9", UserAgent: "Mozilla/5.0", SignedAt: signedAt},
	}
}

func TestEngineApply_UploadsPDFAndAudit(t *testing.T) {
	store := blob.NewMemoryStore("docs")
	leaseID := uuid.New()

	res, err := newEngine(store).Apply(context.Background(), applyInput(t, basePDF(t, 2), leaseID, false))
	require.NoError(t, err)

	prefix := "leases/" + leaseID.String() + "/20261015T143000.000000000Z-tenant"
	assert.Equal(t, prefix+"-signed.pdf", res.SignedPDFKey)
	assert.Equal(t, prefix+"-audit.json", res.AuditLogKey)
	assert.Equal(t, store.URL(res.SignedPDFKey), res.SignedPDFURL)
	assert.Len(t, res.DocumentHash, 64)
	// Landlord fields are never drawn; initials fall back to the signature.
	assert.Equal(t, []string{"tenant-signature", "tenant-date", "tenant-initials", "tenant-name"}, res.FieldsDrawn)

	pdfObj, ok := store.Get(res.SignedPDFKey)
	require.True(t, ok)
	assert.Equal(t, "application/pdf", pdfObj.ContentType)
	signed, err := pdfdoc.NewRenderer(0).Open(pdfObj.Body)
	require.NoError(t, err)
	assert.Equal(t, 3, signed.PageCount(), "audit page appended")

	auditObj, ok := store.Get(res.AuditLogKey)
	require.True(t, ok)
	var audit signing.AuditLog
	require.NoError(t, json.Unmarshal(auditObj.Body, &audit))
	assert.Equal(t, leaseID, audit.LeaseID)
	assert.Equal(t, signing.RoleTenant, audit.Role)
	assert.Equal(t, "sam@example.com", audit.SignerEmail)
	assert.Equal(t, "203.0.113.9", audit.IPAddress)
	assert.Equal(t, res.DocumentHash, audit.DocumentHash)
	assert.True(t, audit.SignedAt.Equal(signedAt))
	assert.Contains(t, audit.ConsentStatement, "legally binding")
}

func TestEngineApply_HashIsDeterministic(t *testing.T) {
	pdf := basePDF(t, 2)
	leaseID := uuid.New()

	first, err := newEngine(blob.NewMemoryStore("a")).Apply(context.Background(), applyInput(t, pdf, leaseID, false))
	require.NoError(t, err)
	second, err := newEngine(blob.NewMemoryStore("b")).Apply(context.Background(), applyInput(t, pdf, leaseID, false))
	require.NoError(t, err)
	assert.Equal(t, first.DocumentHash, second.DocumentHash)

	changed, err := newEngine(blob.NewMemoryStore("c")).Apply(context.Background(), applyInput(t, pdf, leaseID, true))
	require.NoError(t, err)
	assert.NotEqual(t, first.DocumentHash, changed.DocumentHash, "one pixel changes the hash")
}

func TestEngineApply_StorageErrors(t *testing.T) {
	pdf := basePDF(t, 2)

	t.Run("auth failure is not retried", func(t *testing.T) {
		store := &failingStore{MemoryStore: blob.NewMemoryStore("x"), n: 5, err: fmt.Errorf("s3: %w", blob.ErrUnauthorized)}
		_, err := newEngine(store).Apply(context.Background(), applyInput(t, pdf, uuid.New(), false))
		require.ErrorIs(t, err, signing.ErrStorageAuthFailure)
		assert.ErrorIs(t, err, blob.ErrUnauthorized)
		assert.False(t, signing.IsRetryable(err))
		assert.Equal(t, 1, store.calls)
		assert.NotContains(t, err.Error(), "s3:")
	})

	t.Run("transient failure retries with the same bytes", func(t *testing.T) {
		leaseID := uuid.New()
		store := &failingStore{MemoryStore: blob.NewMemoryStore("x"), n: 1, err: errors.New("connection reset")}
		res, err := newEngine(store).Apply(context.Background(), applyInput(t, pdf, leaseID, false))
		require.NoError(t, err)
		assert.Equal(t, 3, store.calls)

		clean, err := newEngine(blob.NewMemoryStore("y")).Apply(context.Background(), applyInput(t, pdf, leaseID, false))
		require.NoError(t, err)
		assert.Equal(t, clean.DocumentHash, res.DocumentHash)
	})

	t.Run("persistent failure is retryable by the caller", func(t *testing.T) {
		store := &failingStore{MemoryStore: blob.NewMemoryStore("x"), n: 10, err: errors.New("quota exceeded")}
		_, err := newEngine(store).Apply(context.Background(), applyInput(t, pdf, uuid.New(), false))
		require.ErrorIs(t, err, signing.ErrStorageUploadFailure)
		assert.True(t, signing.IsRetryable(err))
		var se *signing.StorageError
		require.ErrorAs(t, err, &se)
		assert.True(t, strings.HasSuffix(se.Key, "-signed.pdf"))
		assert.NotContains(t, err.Error(), "quota exceeded")
		assert.ErrorContains(t, errors.Unwrap(se), "quota exceeded")
	})
}

func TestStorageError_MessageHidesProviderDetail(t *testing.T) {
	cause := errors.New(`AccessDenied: key AKIA123 is not allowed on arn:aws:s3:::private-bucket`)

	auth := &signing.StorageError{Key: "leases/l/v1.pdf", Err: fmt.Errorf("%w: %w", signing.ErrStorageAuthFailure, cause)}
	assert.Equal(t, `upload "leases/l/v1.pdf": storage rejected credentials`, auth.Error())
	assert.ErrorIs(t, auth, cause)

	upload := &signing.StorageError{Key: "leases/l/v1.pdf", Retryable: true, Err: fmt.Errorf("%w: %w", signing.ErrStorageUploadFailure, cause)}
	assert.Equal(t, `upload "leases/l/v1.pdf": storage upload failed`, upload.Error())
	assert.ErrorIs(t, upload, signing.ErrStorageUploadFailure)
	assert.ErrorIs(t, upload, cause)
}

func TestEngineApply_InputErrors(t *testing.T) {
	pdf := basePDF(t, 1)
	engine := newEngine(blob.NewMemoryStore("x"))

	in := applyInput(t, pdf, uuid.New(), false)
	in.Data.SignatureImage = ""
	_, err := engine.Apply(context.Background(), in)
	assert.ErrorIs(t, err, signing.ErrMissingMark)

	in = applyInput(t, pdf, uuid.New(), false)
	in.Data.SignatureImage = "data:text/plain;base64,aGVsbG8="
	_, err = engine.Apply(context.Background(), in)
	assert.ErrorIs(t, err, signing.ErrInvalidImage)

	// Page 2 fields on a one page document.
	in = applyInput(t, pdf, uuid.New(), false)
	_, err = engine.Apply(context.Background(), in)
	assert.ErrorIs(t, err, signing.ErrInvalidField)

	in = applyInput(t, []byte("garbage"), uuid.New(), false)
	_, err = engine.Apply(context.Background(), in)
	assert.ErrorIs(t, err, signing.ErrRender)
}
