package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPoints_FlipsYAxis(t *testing.T) {
	p := Placement{X: 10, Y: 20, Width: 30, Height: 5}
	r := ToPoints(p, 612, 792)

	assert.InDelta(t, 61.2, r.X, 1e-9)
	assert.InDelta(t, 183.6, r.Width, 1e-9)
	assert.InDelta(t, 39.6, r.Height, 1e-9)
	// 792 - 0.20*792 - 0.05*792
	assert.InDelta(t, 594.0, r.Y, 1e-9)
}

func TestToPercent_RoundTrip(t *testing.T) {
	pages := [][2]float64{{612, 792}, {595.28, 841.89}, {792, 612}, {1, 1}}
	fields := []Placement{
		{X: 10, Y: 20, Width: 30, Height: 5},
		{X: 0, Y: 0, Width: 100, Height: 100},
		{X: 87.5, Y: 93.25, Width: 12.5, Height: 6.75},
	}
	for _, pg := range pages {
		for _, p := range fields {
			x, y, w, h := ToPercent(ToPoints(p, pg[0], pg[1]), pg[0], pg[1])
			assert.InDelta(t, p.X, x, 1e-9)
			assert.InDelta(t, p.Y, y, 1e-9)
			assert.InDelta(t, p.Width, w, 1e-9)
			assert.InDelta(t, p.Height, h, 1e-9)
		}
	}
}

func TestFitImage_PreservesAspectAndCentres(t *testing.T) {
	box := Rect{X: 100, Y: 200, Width: 200, Height: 50}

	wide := fitImage(box, 400, 50) // limited by width
	assert.InDelta(t, 200, wide.Width, 1e-9)
	assert.InDelta(t, 25, wide.Height, 1e-9)
	assert.InDelta(t, 212.5, wide.Y, 1e-9)

	tall := fitImage(box, 100, 100) // limited by height
	assert.InDelta(t, 50, tall.Width, 1e-9)
	assert.InDelta(t, 50, tall.Height, 1e-9)
	assert.InDelta(t, 200, tall.Y, 1e-9)
	assert.InDelta(t, 100, tall.X, 1e-9)

	small := shrink(tall, 0.8)
	assert.InDelta(t, 40, small.Width, 1e-9)
	assert.InDelta(t, 40, small.Height, 1e-9)
	assert.InDelta(t, 205, small.Y, 1e-9)
}

func TestTextMetrics_CapsAt12pt(t *testing.T) {
	size, _ := textMetrics(Rect{Height: 100})
	assert.Equal(t, 12.0, size)

	size, baseline := textMetrics(Rect{Y: 10, Height: 8})
	assert.InDelta(t, 6, size, 1e-9)
	assert.Greater(t, baseline, 10.0)
	assert.Less(t, baseline+size*0.7, 18.0)
}
