package utils

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestIsDuplicateKey(t *testing.T) {
	we := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
	assert.True(t, IsDuplicateKey(we))
	assert.True(t, IsDuplicateKey(errors.New("E11000 duplicate key error collection: users")))
	assert.False(t, IsDuplicateKey(errors.New("timeout")))
	assert.False(t, IsDuplicateKey(nil))
}

func TestNormalizeName(t *testing.T) {
	composed := "Caf\u00e9  Run "
	decomposed := "Cafe\u0301 Run"
	assert.Equal(t, "Caf\u00e9 Run", NormalizeName(composed))
	assert.Equal(t, "Caf\u00e9 Run", NormalizeName(decomposed))
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+33 (6) 12-34.56", "336123456", true},
		{"555 1234 ext 12", "555123412", true},
		{"12-34", "1234", false},
		{"call me", "callme", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func fileHeader(t *testing.T, name string, data []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["image"][0]
}

func TestImageValidator(t *testing.T) {
	v := NewImageValidator(1 << 20)

	data, mime, err := v.ReadFile(fileHeader(t, "proof.png", pngBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.NotEmpty(t, data)

	_, _, err = v.ReadFile(fileHeader(t, "proof.gif", pngBytes(t)))
	assert.ErrorIs(t, err, ErrInvalidExtension)

	_, _, err = v.ReadFile(fileHeader(t, "proof.jpg", []byte("plain text, not an image")))
	assert.ErrorIs(t, err, ErrInvalidMime)

	small := NewImageValidator(8)
	_, _, err = small.ReadFile(fileHeader(t, "proof.png", pngBytes(t)))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}
