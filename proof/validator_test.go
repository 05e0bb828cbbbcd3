package proof

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/courses"
	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/database/memory"
	"github.com/princinho/racebackend/imaging"
	"github.com/princinho/racebackend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start  = imaging.GeoPoint{Lat: 48.8566, Lng: 2.3522}
	finish = imaging.GeoPoint{Lat: 48.8570, Lng: 2.3530}
)

// photo describes what the fakes report for one image.
type photo struct {
	payload   string
	qrErr     error
	location  *imaging.GeoPoint
	captured  *time.Time
	panicking bool
}

// fakeImaging serves decoder and metadata results keyed by image bytes.
type fakeImaging struct {
	mu     sync.Mutex
	photos map[string]photo
	next   int
}

func newFakeImaging() *fakeImaging { return &fakeImaging{photos: map[string]photo{}} }

func (f *fakeImaging) add(p photo) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	key := fmt.Sprintf("img-%d", f.next)
	f.photos[key] = p
	return []byte(key)
}

func (f *fakeImaging) get(img []byte) photo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.photos[string(img)]
}

type fakeQR struct{ f *fakeImaging }

func (d fakeQR) Decode(img []byte) (string, error) {
	p := d.f.get(img)
	if p.panicking {
		panic("decoder exploded")
	}
	if p.qrErr != nil {
		return "", p.qrErr
	}
	return p.payload, nil
}

type fakeMeta struct{ f *fakeImaging }

func (m fakeMeta) Read(img []byte) (*imaging.Metadata, error) {
	p := m.f.get(img)
	return &imaging.Metadata{Location: p.location, CapturedAt: p.captured}, nil
}

type recordingArchive struct {
	mu      sync.Mutex
	keys    []string
	deleted []string
	err     error
}

func (a *recordingArchive) Put(_ context.Context, key, _ string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, key)
	return "https://files.example.com/" + key, nil
}

func (a *recordingArchive) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, key)
	return nil
}

// failingVisits rejects every write.
type failingVisits struct {
	database.Visits
}

func (failingVisits) Upsert(context.Context, *models.Visit) error {
	return errors.New("disk full")
}

type env struct {
	store   *database.Store
	imgs    *fakeImaging
	v       *Validator
	admin   auth.Identity
	runner  auth.Identity
	archive *recordingArchive
}

func at(hh, mm int) *time.Time {
	t := time.Date(2024, 5, 1, hh, mm, 0, 0, time.UTC)
	return &t
}

func pt(p imaging.GeoPoint) *imaging.GeoPoint { return &p }

func newEnv(t *testing.T, points ...imaging.GeoPoint) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	admin := &models.User{Email: "admin@example.com", Name: "Admin"}
	runner := &models.User{Email: "runner@example.com", Name: "Runner"}
	require.NoError(t, store.Users.Create(ctx, admin))
	require.NoError(t, store.Users.Create(ctx, runner))

	if len(points) == 0 {
		points = []imaging.GeoPoint{start, finish}
	}
	in := courses.CourseInput{Name: "Alpha"}
	for i, p := range points {
		in.Checkpoints = append(in.Checkpoints, courses.CheckpointInput{Number: i, Lat: p.Lat, Lng: p.Lng})
	}
	adminID := auth.Identity{UserID: admin.ID, Email: admin.Email}
	_, err := courses.NewService(store, nil).Create(ctx, adminID, in)
	require.NoError(t, err)

	imgs := newFakeImaging()
	archive := &recordingArchive{}
	return &env{
		store:   store,
		imgs:    imgs,
		v:       NewValidator(store, fakeQR{imgs}, fakeMeta{imgs}, WithArchive(archive)),
		admin:   adminID,
		runner:  auth.Identity{UserID: runner.ID, Email: runner.Email},
		archive: archive,
	}
}

func (e *env) proof(number int, where imaging.GeoPoint, when *time.Time) []byte {
	return e.imgs.add(photo{payload: courses.DeriveQRCode("Alpha", number), location: pt(where), captured: when})
}

func (e *env) submit(img []byte) (*Result, error) {
	return e.v.Submit(context.Background(), e.runner, Submission{CourseName: "Alpha", Image: img, ContentType: "image/jpeg"})
}

func assertCode(t *testing.T, err error, kind apperr.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), err.Error())
	assert.Equal(t, code, apperr.CodeOf(err))
}

func TestAlphaScenario(t *testing.T) {
	e := newEnv(t)

	res, err := e.submit(e.proof(0, start, at(10, 0)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checkpoint)
	assert.False(t, res.Improved)

	_, err = e.submit(e.proof(1, finish, at(9, 59)))
	assertCode(t, err, apperr.KindValidation, "invalid_photo_time")

	res, err = e.submit(e.proof(1, finish, at(10, 5)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checkpoint)

	_, err = e.submit(e.proof(0, start, at(10, 1)))
	assertCode(t, err, apperr.KindConflict, "better_time_recorded")

	res, err = e.submit(e.proof(0, start, at(9, 58)))
	require.NoError(t, err)
	assert.True(t, res.Improved)

	visits, err := e.store.Visits.ListByCourseAndUser(context.Background(), res.Visit.CourseID, e.runner.UserID)
	require.NoError(t, err)
	assert.Len(t, visits, 2)
}

func TestSameTimeIsNotAnImprovement(t *testing.T) {
	e := newEnv(t)
	_, err := e.submit(e.proof(0, start, at(10, 0)))
	require.NoError(t, err)

	_, err = e.submit(e.proof(0, start, at(10, 0)))
	assertCode(t, err, apperr.KindConflict, "better_time_recorded")
}

func TestSuccessorBound(t *testing.T) {
	e := newEnv(t)
	_, err := e.submit(e.proof(1, finish, at(10, 5)))
	require.NoError(t, err, "a later checkpoint may be proven first")

	_, err = e.submit(e.proof(0, start, at(10, 5)))
	assertCode(t, err, apperr.KindValidation, "invalid_photo_time")

	_, err = e.submit(e.proof(0, start, at(10, 4)))
	assert.NoError(t, err)
}

func TestOnlyImmediateNeighborsAreCompared(t *testing.T) {
	third := imaging.GeoPoint{Lat: 48.8580, Lng: 2.3540}
	e := newEnv(t, start, finish, third)

	_, err := e.submit(e.proof(0, start, at(10, 0)))
	require.NoError(t, err)
	_, err = e.submit(e.proof(2, third, at(10, 20)))
	require.NoError(t, err, "a gap at checkpoint 1 is allowed")

	_, err = e.submit(e.proof(1, finish, at(10, 30)))
	assertCode(t, err, apperr.KindValidation, "invalid_photo_time")

	_, err = e.submit(e.proof(1, finish, at(10, 10)))
	assert.NoError(t, err)
}

func TestRejections(t *testing.T) {
	e := newEnv(t)
	far := imaging.GeoPoint{Lat: start.Lat + 0.00025, Lng: start.Lng} // about 28 m north

	cases := []struct {
		name  string
		photo photo
		kind  apperr.Kind
		code  string
	}{
		{"no qr", photo{qrErr: imaging.ErrNoQRCode}, apperr.KindValidation, "no_qr_code"},
		{"unreadable", photo{qrErr: fmt.Errorf("%w: bad jpeg", imaging.ErrUnreadableImage)}, apperr.KindValidation, "unreadable_image"},
		{"foreign qr", photo{payload: courses.DeriveQRCode("Beta", 0), location: pt(start), captured: at(10, 0)}, apperr.KindValidation, "foreign_qr_code"},
		{"no gps", photo{payload: courses.DeriveQRCode("Alpha", 0), captured: at(10, 0)}, apperr.KindValidation, "no_location"},
		{"too far", photo{payload: courses.DeriveQRCode("Alpha", 0), location: pt(far), captured: at(10, 0)}, apperr.KindValidation, "location_mismatch"},
		{"no time", photo{payload: courses.DeriveQRCode("Alpha", 0), location: pt(start)}, apperr.KindValidation, "no_capture_time"},
		{"decoder failure", photo{qrErr: errors.New("out of memory")}, apperr.KindProcessing, "processing_failed"},
		{"panic", photo{panicking: true}, apperr.KindProcessing, "processing_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.submit(e.imgs.add(tc.photo))
			assertCode(t, err, tc.kind, tc.code)
		})
	}

	n, err := e.store.Visits.CountByCourse(context.Background(), mustCourse(t, e).ID)
	require.NoError(t, err)
	assert.Zero(t, n, "rejections must not write visits")
	assert.Empty(t, e.archive.keys)
}

func TestWithinTwentyMetersIsAccepted(t *testing.T) {
	e := newEnv(t)
	near := imaging.GeoPoint{Lat: start.Lat + 0.00017, Lng: start.Lng} // about 19 m north
	require.Less(t, imaging.Distance(start, near), 20.0)

	_, err := e.submit(e.proof(0, near, at(10, 0)))
	assert.NoError(t, err)
}

func TestUnknownCourseAndUser(t *testing.T) {
	e := newEnv(t)
	img := e.proof(0, start, at(10, 0))

	_, err := e.v.Submit(context.Background(), e.runner, Submission{CourseName: "Beta", Image: img})
	assertCode(t, err, apperr.KindNotFound, "course_not_found")

	ghost := auth.Identity{UserID: mustCourse(t, e).ID}
	_, err = e.v.Submit(context.Background(), ghost, Submission{CourseName: "Alpha", Image: img})
	assertCode(t, err, apperr.KindNotFound, "user_not_found")
}

func TestPhotoArchive(t *testing.T) {
	e := newEnv(t)
	res, err := e.submit(e.proof(0, start, at(10, 0)))
	require.NoError(t, err)
	require.Len(t, e.archive.keys, 1)
	assert.Equal(t, "https://files.example.com/"+e.archive.keys[0], res.Visit.PhotoURL)

	e.archive.err = errors.New("bucket unavailable")
	res, err = e.submit(e.proof(0, start, at(9, 0)))
	require.NoError(t, err, "archive failures do not reject a valid proof")
	assert.Empty(t, res.Visit.PhotoURL)
}

func TestFailedWriteRemovesArchivedPhoto(t *testing.T) {
	e := newEnv(t)
	e.store.Visits = failingVisits{e.store.Visits}

	_, err := e.submit(e.proof(0, start, at(10, 0)))
	assertCode(t, err, apperr.KindProcessing, "processing_failed")
	require.Len(t, e.archive.keys, 1)
	assert.Equal(t, e.archive.keys, e.archive.deleted)
}

func TestImprovedTimeReplacesArchivedPhoto(t *testing.T) {
	e := newEnv(t)
	_, err := e.submit(e.proof(0, start, at(10, 0)))
	require.NoError(t, err)
	assert.Empty(t, e.archive.deleted)

	res, err := e.submit(e.proof(0, start, at(9, 58)))
	require.NoError(t, err)
	require.Len(t, e.archive.keys, 2)
	assert.Equal(t, []string{e.archive.keys[0]}, e.archive.deleted)

	visit, err := e.store.Visits.Find(context.Background(), e.runner.UserID, res.Visit.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, e.archive.keys[1], visit.PhotoKey)
	assert.Equal(t, "https://files.example.com/"+e.archive.keys[1], visit.PhotoURL)
}

func TestConcurrentSubmissionsKeepTheBestTime(t *testing.T) {
	e := newEnv(t)
	imgs := make([][]byte, 10)
	for i := range imgs {
		imgs[i] = e.proof(0, start, at(10, 10-i))
	}

	var wg sync.WaitGroup
	for _, img := range imgs {
		wg.Add(1)
		go func(img []byte) {
			defer wg.Done()
			_, _ = e.submit(img)
		}(img)
	}
	wg.Wait()

	course := mustCourse(t, e)
	visits, err := e.store.Visits.ListByCourseAndUser(context.Background(), course.ID, e.runner.UserID)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.True(t, visits[0].CapturedAt.Equal(*at(10, 1)), visits[0].CapturedAt.String())
}

func mustCourse(t *testing.T, e *env) *models.Course {
	t.Helper()
	c, err := e.store.Courses.FindByName(context.Background(), "Alpha")
	require.NoError(t, err)
	return c
}
