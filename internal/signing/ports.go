package signing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Renderer opens PDF bytes for drawing.
type Renderer interface {
	Open(pdf []byte) (Canvas, error)
}

// Canvas is an open PDF. Coordinates are PDF points with the origin at the
// bottom-left of the page; pages are 1-indexed.
type Canvas interface {
	PageCount() int
	PageSize(page int) (width, height float64)
	DrawImage(page int, img Image, r Rect) error
	DrawText(page int, text string, x, baseline, size float64) error
	// AddPage appends a blank page and returns its number.
	AddPage(width, height float64) int
	// Bytes serializes the document. created is written as the document
	// creation date so identical input renders identical bytes.
	Bytes(created time.Time) ([]byte, error)
}

// Fetcher downloads the current document PDF.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DocumentRepository stores lease documents. Advance is a compare-and-swap on
// Version and fails with ErrStaleDocument when fromVersion is no longer
// current.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *LeaseDocument) error
	GetDocument(ctx context.Context, leaseID uuid.UUID) (*LeaseDocument, error)
	AdvanceDocument(ctx context.Context, leaseID uuid.UUID, fromVersion int, rec SignatureRecord) (*LeaseDocument, error)
}

// Publisher announces completed signatures. Implementations must not block
// the signing path on delivery.
type Publisher interface {
	PublishSigned(ctx context.Context, evt SignedEvent)
}

type NopPublisher struct{}

func (NopPublisher) PublishSigned(context.Context, SignedEvent) {}
