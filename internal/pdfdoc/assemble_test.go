package pdfdoc

import (
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

func TestParseObject_SortsKeysAndResolvesRefs(t *testing.T) {
	ref := strings.Repeat("ab", 20)
	obj, err := parseObject([]byte("<</Type /XObject /BBox [0 0 10 20] /Resources " + ref + " 0 R /Name (a (b) c)>>\nendobj\n"))
	require.NoError(t, err)
	require.False(t, obj.isStream)

	keys := make([]string, 0, len(obj.value.entries))
	for _, e := range obj.value.entries {
		keys = append(keys, e.key)
	}
	assert.Equal(t, []string{"/BBox", "/Name", "/Resources", "/Type"}, keys)
	assert.Equal(t, kindRef, obj.value.entries[2].val.kind)
	assert.Equal(t, ref, obj.value.entries[2].val.atom)
	assert.Equal(t, "(a (b) c)", obj.value.entries[1].val.atom)
}

func TestParseObject_Stream(t *testing.T) {
	obj, err := parseObject([]byte("<</Length 5>>\nstream\nq Q \n\nendstream\nendobj\n"))
	require.NoError(t, err)
	assert.True(t, obj.isStream)
	assert.Equal(t, "q Q \n", string(obj.stream))

	_, err = parseObject([]byte("<</Length 5>>\nstream\nq Q"))
	assert.ErrorIs(t, err, errMalformedObject)
}

func signFixture(t *testing.T, src []byte, created time.Time) []byte {
	t.Helper()
	canvas, err := NewRenderer(0).Open(src)
	require.NoError(t, err)
	img := signing.Image{Data: solidPNG(t, 40, 20, color.Black), Format: "png", Width: 40, Height: 20}
	require.NoError(t, canvas.DrawImage(1, img, signing.Rect{X: 72, Y: 100, Width: 80, Height: 40}))
	require.NoError(t, canvas.DrawText(canvas.PageCount(), "Signed", 72, 60, 10))
	out, err := canvas.Bytes(created)
	require.NoError(t, err)
	return out
}

func TestDocument_BytesAreStableAcrossRuns(t *testing.T) {
	created := time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)
	src := fixturePDF(t, letter, a4)

	first := signFixture(t, src, created)
	for i := 0; i < 8; i++ {
		assert.Equal(t, first, signFixture(t, src, created), "run %d", i)
	}
}

func TestDocument_ResigningSignedOutputIsStable(t *testing.T) {
	created := time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)
	signed := signFixture(t, fixturePDF(t, letter, a4), created)

	later := created.Add(time.Hour)
	again := signFixture(t, signed, later)
	assert.Equal(t, again, signFixture(t, signed, later))

	canvas, err := NewRenderer(0).Open(again)
	require.NoError(t, err)
	require.Equal(t, 2, canvas.PageCount())
	w, h := canvas.PageSize(2)
	assert.InDelta(t, 595.28, w, 0.01)
	assert.InDelta(t, 841.89, h, 0.01)
}

func TestDocument_UntouchedPagesKeepSourceOnly(t *testing.T) {
	canvas, err := NewRenderer(0).Open(fixturePDF(t, letter, letter))
	require.NoError(t, err)
	require.NoError(t, canvas.DrawText(1, "Initials", 72, 60, 10))

	out, err := canvas.Bytes(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(out), "q /Sig Do Q"))
	assert.Equal(t, 2, strings.Count(string(out), "q /Src Do Q"))
	assert.Contains(t, string(out), "/CreationDate (D:20260101000000Z)")
}
