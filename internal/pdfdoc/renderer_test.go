package pdfdoc

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/keystone_backend/internal/lease"
	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

var (
	letter = gofpdf.SizeType{Wd: 612, Ht: 792}
	a4     = gofpdf.SizeType{Wd: 595.28, Ht: 841.89}
)

func TestRenderer_OpenReadsPageSizes(t *testing.T) {
	canvas, err := NewRenderer(0).Open(fixturePDF(t, letter, a4))
	require.NoError(t, err)

	require.Equal(t, 2, canvas.PageCount())
	w, h := canvas.PageSize(1)
	assert.InDelta(t, 612, w, 0.01)
	assert.InDelta(t, 792, h, 0.01)
	w, h = canvas.PageSize(2)
	assert.InDelta(t, 595.28, w, 0.01)
	assert.InDelta(t, 841.89, h, 0.01)

	w, h = canvas.PageSize(3)
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestRenderer_RejectsGarbageAndOversize(t *testing.T) {
	_, err := NewRenderer(0).Open([]byte("not a pdf"))
	assert.Error(t, err)

	_, err = NewRenderer(10).Open(fixturePDF(t, letter))
	assert.Error(t, err)
}

func TestDocument_DrawAndAppendPage(t *testing.T) {
	canvas, err := NewRenderer(0).Open(fixturePDF(t, letter, letter))
	require.NoError(t, err)

	img := signing.Image{Data: solidPNG(t, 40, 20, color.Black), Format: "png", Width: 40, Height: 20}
	require.NoError(t, canvas.DrawImage(1, img, signing.Rect{X: 72, Y: 100, Width: 80, Height: 40}))
	require.NoError(t, canvas.DrawText(2, "Jane Doe – tenant", 72, 120, 12))
	assert.Error(t, canvas.DrawText(5, "nowhere", 0, 0, 12))

	page := canvas.AddPage(612, 792)
	assert.Equal(t, 3, page)
	require.NoError(t, canvas.DrawText(page, "Audit", 50, 742, 16))

	created := time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)
	out, err := canvas.Bytes(created)
	require.NoError(t, err)

	again, err := NewRenderer(0).Open(out)
	require.NoError(t, err)
	assert.Equal(t, 3, again.PageCount())

	// Same operations, same bytes.
	canvas2, err := NewRenderer(0).Open(fixturePDF(t, letter, letter))
	require.NoError(t, err)
	require.NoError(t, canvas2.DrawImage(1, img, signing.Rect{X: 72, Y: 100, Width: 80, Height: 40}))
	require.NoError(t, canvas2.DrawText(2, "Jane Doe – tenant", 72, 120, 12))
	require.NoError(t, canvas2.DrawText(canvas2.AddPage(612, 792), "Audit", 50, 742, 16))
	out2, err := canvas2.Bytes(created)
	require.NoError(t, err)
	assert.Equal(t, out, out2)
}

func TestComposer_RendersBuilderDocument(t *testing.T) {
	c := &Composer{Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}
	out, err := c.Compose(context.Background(), lease.ComposedDocument{
		Title: "Residential Lease",
		Sections: []lease.Section{
			{Heading: "Parties", Body: "This lease is made between Alex Landlord and Sam Tenant."},
			{Heading: "Rent", Body: "Rent is $1,500 per month, due on the first."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(out[:4]))

	canvas, err := NewRenderer(0).Open(out)
	require.NoError(t, err)
	assert.Equal(t, 1, canvas.PageCount())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compose(ctx, lease.ComposedDocument{Title: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
