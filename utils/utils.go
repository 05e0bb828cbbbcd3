package utils

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/text/unicode/norm"
)

func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 || e.Code == 11001 {
				return true
			}
		}
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == 11000 || e.Code == 11001 {
				return true
			}
		}
	}

	return strings.Contains(err.Error(), "E11000 duplicate key error")
}

var spaces = regexp.MustCompile(`\s+`)

// NormalizeName trims, collapses inner whitespace and applies NFC so that
// visually identical names compare equal.
func NormalizeName(name string) string {
	s := norm.NFC.String(strings.TrimSpace(name))
	return spaces.ReplaceAllString(s, " ")
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var phoneNoise = regexp.MustCompile(`(?i)[\s()+\-.]|ext`)
var phoneDigits = regexp.MustCompile(`^\d{5,}$`)

// NormalizePhone strips separators and extension markers. ok is false when
// fewer than five digits remain or other characters are present.
func NormalizePhone(raw string) (phone string, ok bool) {
	s := phoneNoise.ReplaceAllString(raw, "")
	return s, phoneDigits.MatchString(s)
}

var (
	ErrFileTooLarge     = errors.New("file too large")
	ErrInvalidExtension = errors.New("invalid file extension")
	ErrInvalidMime      = errors.New("invalid file type")
)

type FileValidator struct {
	allowedExt  map[string]bool
	allowedMime map[string]bool
	maxSize     int64
}

// NewImageValidator accepts JPEG and PNG files up to maxSize bytes.
func NewImageValidator(maxSize int64) *FileValidator {
	return &FileValidator{
		allowedExt:  map[string]bool{".jpg": true, ".jpeg": true, ".png": true},
		allowedMime: map[string]bool{"image/jpeg": true, "image/png": true},
		maxSize:     maxSize,
	}
}

func (v *FileValidator) MaxSize() int64 { return v.maxSize }

// ReadFile validates the upload and returns its content and sniffed MIME type.
func (v *FileValidator) ReadFile(fileHeader *multipart.FileHeader) ([]byte, string, error) {
	if fileHeader.Size > v.maxSize {
		return nil, "", fmt.Errorf("%w (max %d MB)", ErrFileTooLarge, v.maxSize>>20)
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !v.allowedExt[ext] {
		return nil, "", ErrInvalidExtension
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, v.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > v.maxSize {
		return nil, "", fmt.Errorf("%w (max %d MB)", ErrFileTooLarge, v.maxSize>>20)
	}

	return v.Check(data)
}

// Check sniffs data and rejects anything but the allowed MIME types.
func (v *FileValidator) Check(data []byte) ([]byte, string, error) {
	detected := strings.ToLower(mimetype.Detect(data).String())
	if !v.allowedMime[detected] {
		return nil, "", ErrInvalidMime
	}
	return data, detected, nil
}
