package signing

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// Image is a decoded raster mark ready for drawing.
type Image struct {
	Data   []byte
	Format string // "png" or "jpeg"
	Width  int
	Height int
}

// DecodeImage parses a data URL and reads the image dimensions.
func DecodeImage(raw string) (Image, error) {
	du, err := dataurl.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if du.Type != "image" {
		return Image{}, fmt.Errorf("%w: media type %s", ErrInvalidImage, du.MediaType.ContentType())
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(du.Data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return Image{}, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	return Image{Data: du.Data, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// marks holds the images a signer supplied. initials falls back to the
// signature when absent.
type marks struct {
	signature *Image
	initials  *Image
}

func decodeMarks(fields []Field, data SigningData) (marks, error) {
	var needSig, needInit bool
	for _, f := range fields {
		switch f.(type) {
		case SignatureField:
			needSig = true
		case InitialField:
			needInit = true
		}
	}

	var m marks
	if data.SignatureImage != "" {
		img, err := DecodeImage(data.SignatureImage)
		if err != nil {
			return m, fmt.Errorf("signature: %w", err)
		}
		m.signature = &img
	}
	if data.InitialsImage != "" {
		img, err := DecodeImage(data.InitialsImage)
		if err != nil {
			return m, fmt.Errorf("initials: %w", err)
		}
		m.initials = &img
	}

	if needSig && m.signature == nil {
		return m, ErrMissingMark
	}
	if needInit && m.initials == nil && m.signature == nil {
		return m, ErrMissingMark
	}
	return m, nil
}
