package signing

// Rect is a box in PDF point space, origin at the bottom-left of the page.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// ToPoints converts a top-left percentage placement into PDF point space for
// a page of pageW x pageH points. The y axis is flipped, so the returned Y is
// the bottom edge of the box.
func ToPoints(p Placement, pageW, pageH float64) Rect {
	w := p.Width / 100 * pageW
	h := p.Height / 100 * pageH
	return Rect{
		X:      p.X / 100 * pageW,
		Y:      pageH - p.Y/100*pageH - h,
		Width:  w,
		Height: h,
	}
}

// ToPercent is the inverse of ToPoints.
func ToPercent(r Rect, pageW, pageH float64) (x, y, width, height float64) {
	width = r.Width / pageW * 100
	height = r.Height / pageH * 100
	x = r.X / pageW * 100
	y = (pageH - r.Y - r.Height) / pageH * 100
	return x, y, width, height
}

// fitImage scales an iw x ih image uniformly to fit inside box, left aligned
// and centred vertically.
func fitImage(box Rect, iw, ih float64) Rect {
	if iw <= 0 || ih <= 0 {
		return box
	}
	scale := box.Width / iw
	if s := box.Height / ih; s < scale {
		scale = s
	}
	w, h := iw*scale, ih*scale
	return Rect{
		X:      box.X,
		Y:      box.Y + (box.Height-h)/2,
		Width:  w,
		Height: h,
	}
}

// shrink scales r by factor around its left edge, keeping it vertically
// centred in the same band.
func shrink(r Rect, factor float64) Rect {
	h := r.Height * factor
	return Rect{
		X:      r.X,
		Y:      r.Y + (r.Height-h)/2,
		Width:  r.Width * factor,
		Height: h,
	}
}

const maxFontSize = 12.0

// textMetrics picks a font size that fits the box height, capped at 12pt,
// and the baseline that centres a line of that size in the box.
func textMetrics(box Rect) (size, baseline float64) {
	size = box.Height * 0.75
	if size > maxFontSize {
		size = maxFontSize
	}
	// Cap height of the standard fonts is roughly 0.7em.
	baseline = box.Y + (box.Height-size*0.7)/2
	return size, baseline
}
