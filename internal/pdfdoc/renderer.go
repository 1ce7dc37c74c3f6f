// Package pdfdoc adapts gofpdf to the signing Canvas and the lease Composer.
package pdfdoc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/phpdave11/gofpdi"

	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

const (
	fontFamily = "Helvetica"
	mediaBox   = "/MediaBox"
)

var ErrNoPages = errors.New("pdf has no pages")

// Renderer opens PDFs with gofpdf. MaxBytes bounds the accepted input size
// when positive.
type Renderer struct {
	MaxBytes int64
}

func NewRenderer(maxBytes int64) *Renderer {
	return &Renderer{MaxBytes: maxBytes}
}

type pageSize struct{ w, h float64 }

// op draws on one page; h is the page height for flipping y.
type op func(pdf *gofpdf.Fpdf, tr func(string) string, h float64) error

// Document is an open PDF. Drawing calls are recorded per page and replayed
// by Bytes onto an overlay that is laid over the imported source pages.
type Document struct {
	src      []byte
	imported int
	pages    []pageSize
	ops      map[int][]op
}

func (r *Renderer) Open(src []byte) (signing.Canvas, error) {
	if r.MaxBytes > 0 && int64(len(src)) > r.MaxBytes {
		return nil, fmt.Errorf("pdf is %d bytes, limit is %d", len(src), r.MaxBytes)
	}
	sizes, err := pageSizes(src)
	if err != nil {
		return nil, err
	}
	return &Document{
		src:      src,
		imported: len(sizes),
		pages:    sizes,
		ops:      make(map[int][]op),
	}, nil
}

// pageSizes reads the media box of every page.
func pageSizes(src []byte) (sizes []pageSize, err error) {
	// The importer panics on malformed input.
	defer func() {
		if p := recover(); p != nil {
			sizes, err = nil, fmt.Errorf("import pdf: %v", p)
		}
	}()

	imp := gofpdi.NewImporter()
	var rs io.ReadSeeker = bytes.NewReader(src)
	imp.SetSourceStream(&rs)
	boxes := imp.GetPageSizes()
	if len(boxes) == 0 {
		return nil, ErrNoPages
	}
	sizes = make([]pageSize, 0, len(boxes))
	for n := 1; n <= len(boxes); n++ {
		box, ok := boxes[n][mediaBox]
		if !ok {
			return nil, fmt.Errorf("page %d has no media box", n)
		}
		sizes = append(sizes, pageSize{w: box["w"], h: box["h"]})
	}
	return sizes, nil
}

func newFpdf() *gofpdf.Fpdf {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: 612, Ht: 792},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCatalogSort(true)
	pdf.SetCompression(true)
	return pdf
}

func (d *Document) PageCount() int { return len(d.pages) }

func (d *Document) PageSize(page int) (width, height float64) {
	if page < 1 || page > len(d.pages) {
		return 0, 0
	}
	p := d.pages[page-1]
	return p.w, p.h
}

func (d *Document) record(page int, fn op) error {
	if page < 1 || page > len(d.pages) {
		return fmt.Errorf("page %d out of range 1..%d", page, len(d.pages))
	}
	d.ops[page] = append(d.ops[page], fn)
	return nil
}

// DrawImage places img in r, given in bottom-left point space.
func (d *Document) DrawImage(page int, img signing.Image, r signing.Rect) error {
	typ := imageType(img.Format)
	if typ == "" {
		return fmt.Errorf("unsupported image format %q", img.Format)
	}
	sum := sha256.Sum256(img.Data)
	name := "img-" + hex.EncodeToString(sum[:8])
	data := img.Data

	return d.record(page, func(pdf *gofpdf.Fpdf, _ func(string) string, h float64) error {
		opts := gofpdf.ImageOptions{ImageType: typ}
		if pdf.GetImageInfo(name) == nil {
			pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
		}
		pdf.ImageOptions(name, r.X, h-r.Y-r.Height, r.Width, r.Height, false, opts, 0, "")
		return pdf.Error()
	})
}

func imageType(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "PNG"
	case "jpeg", "jpg":
		return "JPG"
	case "gif":
		return "GIF"
	}
	return ""
}

// DrawText writes one line with its baseline at the given height, in
// bottom-left point space.
func (d *Document) DrawText(page int, text string, x, baseline, size float64) error {
	return d.record(page, func(pdf *gofpdf.Fpdf, tr func(string) string, h float64) error {
		pdf.SetFont(fontFamily, "", size)
		pdf.SetTextColor(0, 0, 0)
		pdf.Text(x, h-baseline, tr(text))
		return pdf.Error()
	})
}

func (d *Document) AddPage(width, height float64) int {
	d.pages = append(d.pages, pageSize{w: width, h: height})
	return len(d.pages)
}

// Bytes writes the document. The creation date is fixed to created and
// object order depends only on content, so equal input gives equal bytes.
func (d *Document) Bytes(created time.Time) (out []byte, err error) {
	// gofpdi panics on input it cannot parse.
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("render pdf: %v", p)
		}
	}()

	overlay := newFpdf()
	tr := overlay.UnicodeTranslatorFromDescriptor("")
	pages := make([]placement, len(d.pages))
	drawn := 0
	for n, size := range d.pages {
		page := n + 1
		pg := placement{w: size.w, h: size.h, src: -1, overlay: -1}
		if page <= d.imported {
			pg.src = n
		}
		if ops := d.ops[page]; len(ops) > 0 {
			overlay.AddPageFormat("P", gofpdf.SizeType{Wd: size.w, Ht: size.h})
			for _, fn := range ops {
				if err := fn(overlay, tr, size.h); err != nil {
					return nil, fmt.Errorf("page %d: %w", page, err)
				}
			}
			pg.overlay = drawn
			drawn++
		}
		pages[n] = pg
	}

	src, err := importPages(d.src, d.imported)
	if err != nil {
		return nil, fmt.Errorf("import source: %w", err)
	}
	var marks *importSet
	if drawn > 0 {
		overlay.SetCreationDate(created)
		overlay.SetModificationDate(created)
		var buf bytes.Buffer
		if err := overlay.Output(&buf); err != nil {
			return nil, fmt.Errorf("write overlay: %w", err)
		}
		if marks, err = importPages(buf.Bytes(), drawn); err != nil {
			return nil, fmt.Errorf("import overlay: %w", err)
		}
	}

	out, err = assemble(pages, src, marks, created)
	if err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return out, nil
}
