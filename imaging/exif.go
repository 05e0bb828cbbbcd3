package imaging

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

type Metadata struct {
	Location   *GeoPoint
	CapturedAt *time.Time
}

type MetadataReader interface {
	Read(img []byte) (*Metadata, error)
}

const exifTimeLayout = "2006:01:02 15:04:05"

const (
	offsetTime         exif.FieldName = "OffsetTime"
	offsetTimeOriginal exif.FieldName = "OffsetTimeOriginal"
)

var offsetFields = map[uint16]exif.FieldName{
	0x9010: offsetTime,
	0x9011: offsetTimeOriginal,
}

// ExifReader extracts GPS position and capture time. Images without EXIF
// yield empty metadata, not an error.
type ExifReader struct{}

func (ExifReader) Read(data []byte) (*Metadata, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return &Metadata{}, nil
	}

	md := &Metadata{}
	if lat, lng, err := x.LatLong(); err == nil {
		p := GeoPoint{Lat: lat, Lng: lng}
		if p.Valid() {
			md.Location = &p
		}
	}

	loadOffsetTags(x)
	if t, ok := captureTime(x); ok {
		md.CapturedAt = &t
	}
	return md, nil
}

// loadOffsetTags reads the EXIF 2.31 offset tags, which goexif does not map.
func loadOffsetTags(x *exif.Exif) {
	ptr, err := x.Get(exif.ExifIFDPointer)
	if err != nil || x.Tiff == nil {
		return
	}
	offset, err := ptr.Int64(0)
	if err != nil {
		return
	}
	r := bytes.NewReader(x.Raw)
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return
	}
	dir, _, err := tiff.DecodeDir(r, x.Tiff.Order)
	if err != nil {
		return
	}
	x.LoadTags(dir, offsetFields, false)
}

func stringTag(x *exif.Exif, names ...exif.FieldName) string {
	for _, name := range names {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			continue
		}
		if s = strings.Trim(s, "\x00 "); s != "" {
			return s
		}
	}
	return ""
}

// captureTime combines the original capture time with its UTC offset when
// the camera recorded one. Without an offset the time is taken as UTC.
func captureTime(x *exif.Exif) (time.Time, bool) {
	raw := stringTag(x, exif.DateTimeOriginal, exif.DateTime)
	if raw == "" {
		return time.Time{}, false
	}
	loc := time.UTC
	if off := stringTag(x, offsetTimeOriginal, offsetTime); off != "" {
		if z, err := time.Parse("-07:00", off); err == nil {
			_, secs := z.Zone()
			loc = time.FixedZone(off, secs)
		}
	}
	t, err := time.ParseInLocation(exifTimeLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
