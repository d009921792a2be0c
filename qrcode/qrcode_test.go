package qrcode

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opd-ai/qrxfer/chunk"
	"github.com/opd-ai/qrxfer/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"L", "m", " q ", "H"} {
		l, err := ParseLevel(s)
		require.NoError(t, err, s)
		assert.Equal(t, Level(strings.ToUpper(strings.TrimSpace(s))), l)
	}

	for _, s := range []string{"", "X", "low"} {
		_, err := ParseLevel(s)
		assert.ErrorIs(t, err, ErrInvalidLevel, s)
	}
}

func TestRender_DefaultSymbol(t *testing.T) {
	records, err := chunk.Encode(bytes.Repeat([]byte{0xAB}, limits.DefaultChunkSize), "x.bin", "", limits.DefaultChunkSize)
	require.NoError(t, err)
	require.Len(t, records, 1)

	data, err := Render(records[0].Payload(), DefaultLevel, DefaultSize)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
	assert.Equal(t, DefaultSize, img.Bounds().Dy())
}

func TestRender_Errors(t *testing.T) {
	_, err := Render("x", LevelH, 0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = Render("x", Level("Z"), 100)
	assert.ErrorIs(t, err, ErrInvalidLevel)

	_, err = Render(strings.Repeat("x", 8000), LevelL, 100)
	assert.ErrorIs(t, err, ErrRender)
}

func TestCapacity(t *testing.T) {
	assert.Equal(t, 1273, Capacity(LevelH))
	assert.Zero(t, Capacity(Level("Z")))

	// A default-size record is too large for H but fits the default level.
	records, err := chunk.Encode(make([]byte, limits.DefaultChunkSize), "x.bin", "", limits.DefaultChunkSize)
	require.NoError(t, err)
	payload := records[0].Payload()

	assert.False(t, Fits(payload, LevelH))
	assert.True(t, Fits(payload, DefaultLevel))

	_, err = Render(payload, LevelH, 100)
	assert.ErrorIs(t, err, ErrRender)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbol.png")
	require.NoError(t, WriteFile(path, "hello", LevelM, 200))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
}

func TestTerminal(t *testing.T) {
	out, err := Terminal("hello", LevelL, false)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Contains(t, out, "\n")
}
