package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Alijeyrad/keystone_backend/internal/lease"
)

const (
	composeMargin  = 54.0
	composeTitle   = 18.0
	composeHeading = 12.0
	composeBody    = 10.0
)

// Composer lays out builder templates on US Letter pages.
type Composer struct {
	// Now stamps the creation date; a fixed clock gives stable output.
	Now func() time.Time
}

func NewComposer() *Composer { return &Composer{Now: time.Now} }

func (c *Composer) Compose(ctx context.Context, doc lease.ComposedDocument) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := newFpdf()
	pdf.SetMargins(composeMargin, composeMargin, composeMargin)
	pdf.SetAutoPageBreak(true, composeMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", composeTitle)
	pdf.MultiCell(0, composeTitle*1.4, tr(doc.Title), "", "C", false)
	pdf.Ln(composeTitle)

	for _, sec := range doc.Sections {
		if sec.Heading != "" {
			pdf.SetFont(fontFamily, "B", composeHeading)
			pdf.MultiCell(0, composeHeading*1.4, tr(sec.Heading), "", "L", false)
		}
		pdf.SetFont(fontFamily, "", composeBody)
		pdf.MultiCell(0, composeBody*1.5, tr(sec.Body), "", "J", false)
		pdf.Ln(composeBody)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	at := now()
	pdf.SetCreationDate(at)
	pdf.SetModificationDate(at)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("compose pdf: %w", err)
	}
	return buf.Bytes(), nil
}
