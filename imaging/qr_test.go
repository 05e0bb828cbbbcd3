package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qrPNG(t *testing.T, text string) []byte {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, matrix))
	return buf.Bytes()
}

func TestZXingDecoderReadsQRCode(t *testing.T) {
	payload := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

	got, err := ZXingDecoder{}.Decode(qrPNG(t, payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestZXingDecoderBlankImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 120, 120))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	_, err := ZXingDecoder{}.Decode(buf.Bytes())
	assert.ErrorIs(t, err, ErrNoQRCode)
}

func TestZXingDecoderGarbage(t *testing.T) {
	_, err := ZXingDecoder{}.Decode([]byte("not an image"))
	assert.ErrorIs(t, err, ErrUnreadableImage)
}
