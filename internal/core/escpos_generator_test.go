package core

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func countChunk(chunks [][]byte, want []byte) int {
	n := 0
	for _, c := range chunks {
		if bytes.Equal(c, want) {
			n++
		}
	}
	return n
}

func indexChunk(chunks [][]byte, want []byte) int {
	for i, c := range chunks {
		if bytes.Equal(c, want) {
			return i
		}
	}
	return -1
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestInitSequence(t *testing.T) {
	assert.Equal(t, []byte{
		0x1b, 0x40,
		0x1b, 0x21, 0x00,
		0x1b, 0x61, 0x00,
		0x1b, 0x74, 0x00,
		0x1d, 0x21, 0x00,
	}, InitSequence())
}

func TestSelectFontScale(t *testing.T) {
	tests := []struct {
		name string
		font FontSize
		want byte
	}{
		{"normal", FontNormal, 0x00},
		{"wide", FontWide, 0x01},
		{"tall", FontTall, 0x10},
		{"big", FontBig, 0x11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, []byte{0x1d, 0x21, tt.want}, SelectFontSize(tt.font))
		})
	}

	assert.Equal(t, []byte{0x1d, 0x21, 0x07}, SelectFontScale(9, 0))
	assert.Equal(t, []byte{0x1d, 0x21, 0x77}, SelectFontScale(8, 8))
}

func TestGenerateFixedCommands(t *testing.T) {
	g := NewESCPOSGenerator(EncoderOptions{}, nil)

	chunks, err := g.Generate([]PrintItem{
		{Type: ItemCashbox},
		{Type: ItemFeed, Lines: 4},
		{Type: ItemFeed, Lines: 1000},
		{Type: ItemCut},
	})
	require.NoError(t, err)

	assert.Equal(t, [][]byte{
		InitSequence(),
		{0x1d, 0x21, 0x00}, {0x1b, 0x70, 0x00, 0x19, 0xfa},
		{0x1d, 0x21, 0x00}, {0x1b, 0x64, 0x04},
		{0x1d, 0x21, 0x00}, {0x1b, 0x64, 0xff},
		{0x1d, 0x21, 0x00}, {0x1d, 0x56, 0x42, 0x66},
	}, chunks)
}

func TestGenerateText(t *testing.T) {
	g := NewESCPOSGenerator(EncoderOptions{}, nil)

	chunks, err := g.Generate([]PrintItem{
		{Type: ItemText, Text: "hi", Alignment: AlignCenter, FontSize: FontWide},
	})
	require.NoError(t, err)

	assert.Equal(t, [][]byte{
		InitSequence(),
		{0x1d, 0x21, 0x01},
		cmdChineseOff,
		{0x1b, 0x61, 0x01},
		cmdBoldOff,
		[]byte("hi"),
		{0x0a},
		{0x0a},
	}, chunks)
}

func TestGenerateBoldIsPaired(t *testing.T) {
	g := NewESCPOSGenerator(EncoderOptions{}, nil)

	chunks, err := g.Generate([]PrintItem{
		{Type: ItemText, Text: "TOTAL DUE FOR TABLE SEVEN INCLUDING SERVICE CHARGE AND TAX", Bold: true, WrapWords: true},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, countChunk(chunks, cmdBoldOn))
	on := indexChunk(chunks, cmdBoldOn)
	off := -1
	for i := on + 1; i < len(chunks); i++ {
		if bytes.Equal(chunks[i], cmdBoldOff) {
			off = i
		}
	}
	require.Greater(t, off, on)
	// bold off sits after the last text line and before the trailing feed
	assert.Equal(t, len(chunks)-2, off)
	assert.Equal(t, []byte{0x0a}, chunks[len(chunks)-1])
}

func TestGenerateTextCharsets(t *testing.T) {
	g := NewESCPOSGenerator(EncoderOptions{}, nil)

	t.Run("han text uses gbk", func(t *testing.T) {
		chunks, err := g.Generate([]PrintItem{{Type: ItemText, Text: "合计 10"}})
		require.NoError(t, err)

		want, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("合计 10"))
		require.NoError(t, err)

		assert.Equal(t, 2, indexChunk(chunks, cmdChineseOn))
		assert.Equal(t, 3, indexChunk(chunks, cmdChineseNoGap))
		assert.NotEqual(t, -1, indexChunk(chunks, want))
	})

	t.Run("latin text uses code page 437", func(t *testing.T) {
		chunks, err := g.Generate([]PrintItem{{Type: ItemText, Text: "Café"}})
		require.NoError(t, err)

		assert.Equal(t, -1, indexChunk(chunks, cmdChineseOn))
		assert.NotEqual(t, -1, indexChunk(chunks, []byte{'C', 'a', 'f', 0x82}))
	})
}

func TestGenerateColumns(t *testing.T) {
	g := NewESCPOSGenerator(EncoderOptions{}, nil)

	chunks, err := g.Generate([]PrintItem{{
		Type: ItemColumn,
		Columns: []ColumnItem{
			{Alignment: AlignLeft, Width: 6, Lines: []string{"Tea", "Milk"}},
			{Alignment: AlignRight, Width: 4, Lines: []string{"2.50"}},
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, [][]byte{
		InitSequence(),
		{0x1d, 0x21, 0x00},
		cmdChineseOff,
		cmdCodePage437,
		{0x1b, 0x61, 0x00}, []byte("Tea   2.50"), {0x0a},
		{0x1b, 0x61, 0x00}, []byte("Milk      "), {0x0a},
	}, chunks)
}

func TestGenerateNativeQRCode(t *testing.T) {
	g := NewESCPOSGenerator(EncoderOptions{}, nil)

	chunks, err := g.Generate([]PrintItem{{Type: ItemQRCode, Text: "abc", Alignment: AlignCenter}})
	require.NoError(t, err)

	assert.Equal(t, [][]byte{
		InitSequence(),
		{0x1d, 0x21, 0x00},
		{0x1b, 0x61, 0x01},
		{0x1d, 0x28, 0x6b, 0x03, 0x00, 0x31, 0x43, 0x04},
		{0x1d, 0x28, 0x6b, 0x03, 0x00, 0x31, 0x45, 0x30},
		{0x1d, 0x28, 0x6b, 0x06, 0x00, 0x31, 0x50, 0x30, 'a', 'b', 'c'},
		{0x1d, 0x28, 0x6b, 0x03, 0x00, 0x31, 0x51, 0x30},
		{0x0a},
	}, chunks)
}

func TestGenerateRasterQRCode(t *testing.T) {
	g := NewESCPOSGenerator(EncoderOptions{QRMode: QRModeRaster}, nil)

	chunks, err := g.Generate([]PrintItem{{Type: ItemQRCode, Text: "https://example.com/r/42"}})
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	raster := chunks[2]
	assert.True(t, bytes.HasPrefix(raster, []byte{0x1d, 0x76, 0x30, 0x00, 72, 0, 0x00, 0x01}))
	assert.Len(t, raster, 8+72*256)
	assert.Equal(t, []byte{0x0a}, chunks[3])
}

func TestGenerateImage(t *testing.T) {
	g := NewESCPOSGenerator(EncoderOptions{}, nil)

	chunks, err := g.Generate([]PrintItem{{
		Type:         ItemImage,
		Image:        solidImage(144, 72, color.Black),
		WidthPercent: 50,
		Alignment:    AlignCenter,
	}})
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	// 50% of 576 dots is 288 wide, so a 2:1 image becomes 144 rows of 72 bytes
	raster := chunks[2]
	require.True(t, bytes.HasPrefix(raster, []byte{0x1d, 0x76, 0x30, 0x00, 72, 0, 144, 0}))
	data := raster[8:]
	require.Len(t, data, 72*144)
	assert.Equal(t, byte(0x00), data[0])
	assert.Equal(t, byte(0xff), data[36])
	assert.Equal(t, byte(0x00), data[71])
}

func TestGenerateDegradesFailedItems(t *testing.T) {
	g := NewESCPOSGenerator(EncoderOptions{}, nil)

	chunks, err := g.Generate([]PrintItem{
		{Type: ItemImage},
		{Type: "BARCODE"},
		{Type: ItemCut},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImageEncoding))
	assert.True(t, errors.Is(err, ErrUnsupportedItem))

	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, 0, encErr.Index)

	assert.Equal(t, [][]byte{
		InitSequence(),
		{0x1d, 0x21, 0x00}, {0x0a},
		{0x1d, 0x21, 0x00}, {0x0a},
		{0x1d, 0x21, 0x00}, {0x1d, 0x56, 0x42, 0x66},
	}, chunks)
}

func TestRasterCommand(t *testing.T) {
	cmd := RasterCommand(&Raster{WidthBytes: 72, Height: 300, Data: []byte{0xaa, 0x55}})
	assert.Equal(t, []byte{0x1d, 0x76, 0x30, 0x00, 0x48, 0x00, 0x2c, 0x01, 0xaa, 0x55}, cmd)
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, []byte{1, 2, 3}, Flatten([][]byte{{1}, nil, {2, 3}}))
}
