package proof

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/courses"
	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/events"
	"github.com/princinho/racebackend/imaging"
	"github.com/princinho/racebackend/locker"
	"github.com/princinho/racebackend/logger"
	"github.com/princinho/racebackend/metrics"
	"github.com/princinho/racebackend/models"
	"github.com/princinho/racebackend/storage"
	"github.com/sirupsen/logrus"
)

const DefaultMaxDistanceMeters = 20.0

const processingMessage = "an error occurred processing the image"

type Submission struct {
	CourseName  string
	Image       []byte
	ContentType string
}

type Result struct {
	Checkpoint int
	Visit      *models.Visit
	// Improved is set when the visit replaced a slower one.
	Improved bool
}

type Validator struct {
	store       *database.Store
	qr          imaging.QRDecoder
	meta        imaging.MetadataReader
	locks       locker.Locker
	archive     storage.Archive
	events      events.Publisher
	maxDistance float64
	now         func() time.Time
}

type Option func(*Validator)

func WithLocker(l locker.Locker) Option     { return func(v *Validator) { v.locks = l } }
func WithArchive(a storage.Archive) Option  { return func(v *Validator) { v.archive = a } }
func WithEvents(p events.Publisher) Option  { return func(v *Validator) { v.events = p } }
func WithMaxDistance(meters float64) Option { return func(v *Validator) { v.maxDistance = meters } }

func NewValidator(store *database.Store, qr imaging.QRDecoder, meta imaging.MetadataReader, opts ...Option) *Validator {
	v := &Validator{
		store:       store,
		qr:          qr,
		meta:        meta,
		locks:       locker.NewKeyedMutex(),
		archive:     storage.Nop{},
		events:      events.Nop{},
		maxDistance: DefaultMaxDistanceMeters,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func processing(err error) error {
	return apperr.Processing(processingMessage, err)
}

// Submit validates a photo proof and records the visit it proves. Nothing is
// written unless every check passes.
func (v *Validator) Submit(ctx context.Context, id auth.Identity, sub Submission) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.WithContext(ctx).WithField("panic", r).Error("proof validation panicked")
			res, err = nil, processing(fmt.Errorf("panic: %v", r))
		}
		outcome := "accepted"
		if err != nil {
			outcome = apperr.CodeOf(err)
		}
		metrics.ProofSubmissions.WithLabelValues(outcome).Inc()
		metrics.ProofDuration.Observe(time.Since(start).Seconds())
	}()
	return v.submit(ctx, id, sub)
}

func (v *Validator) submit(ctx context.Context, id auth.Identity, sub Submission) (*Result, error) {
	name, err := courses.NormalizeName(sub.CourseName)
	if err != nil {
		return nil, apperr.NotFound("course_not_found", "course not found")
	}
	course, err := v.store.Courses.FindByName(ctx, name)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("course_not_found", "course not found")
	}
	if err != nil {
		return nil, processing(err)
	}

	user, err := v.store.Users.FindByID(ctx, id.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("user_not_found", "user not found")
	}
	if err != nil {
		return nil, processing(err)
	}

	payload, err := v.qr.Decode(sub.Image)
	switch {
	case errors.Is(err, imaging.ErrNoQRCode):
		return nil, apperr.Validation("no_qr_code", "no QR code detected in the image")
	case errors.Is(err, imaging.ErrUnreadableImage):
		return nil, apperr.Validation("unreadable_image", "the image could not be read")
	case err != nil:
		return nil, processing(err)
	}

	checkpoint, err := v.store.Checkpoints.FindByQRCode(ctx, course.ID, strings.TrimSpace(payload))
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Validation("foreign_qr_code", "this QR code doesn't belong to this course")
	}
	if err != nil {
		return nil, processing(err)
	}

	md, err := v.meta.Read(sub.Image)
	if err != nil {
		return nil, processing(err)
	}
	if md.Location == nil {
		return nil, apperr.Validation("no_location", "the photo has no GPS location")
	}
	target := imaging.GeoPoint{Lat: checkpoint.Lat, Lng: checkpoint.Lng}
	if d := imaging.Distance(*md.Location, target); d > v.maxDistance {
		return nil, apperr.Validation("location_mismatch",
			fmt.Sprintf("the photo was taken %.0f m from checkpoint %d", d, checkpoint.Number))
	}
	if md.CapturedAt == nil {
		return nil, apperr.Validation("no_capture_time", "the photo has no capture time")
	}
	captured := md.CapturedAt.UTC()

	unlock, err := v.locks.Lock(ctx, user.ID.Hex()+":"+course.ID.Hex())
	if err != nil {
		return nil, processing(err)
	}
	defer unlock()

	existing, err := v.visitAt(ctx, user, checkpoint)
	if err != nil {
		return nil, err
	}
	if existing != nil && !captured.Before(existing.CapturedAt) {
		return nil, apperr.Conflict("better_time_recorded", "a better time is already recorded for this checkpoint")
	}
	if err := v.checkNeighbors(ctx, user, checkpoint, captured); err != nil {
		return nil, err
	}

	visit := &models.Visit{
		UserID:       user.ID,
		CourseID:     course.ID,
		CheckpointID: checkpoint.ID,
		CapturedAt:   captured,
		CreatedAt:    v.now().UTC(),
	}
	if existing != nil {
		visit.ID = existing.ID
		visit.CreatedAt = existing.CreatedAt
	}
	visit.PhotoURL, visit.PhotoKey = v.archivePhoto(ctx, course, user, sub, captured)

	if err := v.store.Visits.Upsert(ctx, visit); err != nil {
		v.discardPhoto(ctx, visit.PhotoKey)
		return nil, processing(err)
	}
	if existing != nil {
		v.discardPhoto(ctx, existing.PhotoKey)
	}

	logger.WithContext(ctx).WithFields(logrus.Fields{
		"course":     course.Name,
		"checkpoint": checkpoint.Number,
		"improved":   existing != nil,
	}).Info("checkpoint visit recorded")
	events.PublishBestEffort(ctx, v.events, events.SubjectVisitAccepted, events.VisitAccepted{
		Course:     course.Name,
		UserEmail:  user.Email,
		Checkpoint: checkpoint.Number,
		CapturedAt: captured,
		Improved:   existing != nil,
	})

	return &Result{Checkpoint: checkpoint.Number, Visit: visit, Improved: existing != nil}, nil
}

func (v *Validator) visitAt(ctx context.Context, user *models.User, cp *models.Checkpoint) (*models.Visit, error) {
	visit, err := v.store.Visits.Find(ctx, user.ID, cp.ID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, processing(err)
	}
	return visit, nil
}

func (v *Validator) neighborVisit(ctx context.Context, user *models.User, cp *models.Checkpoint, number int) (*models.Visit, error) {
	if number < 0 {
		return nil, nil
	}
	neighbor, err := v.store.Checkpoints.FindByNumber(ctx, cp.CourseID, number)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, processing(err)
	}
	return v.visitAt(ctx, user, neighbor)
}

// checkNeighbors keeps times strictly increasing with checkpoint numbers.
// Only the immediate neighbors are compared.
func (v *Validator) checkNeighbors(ctx context.Context, user *models.User, cp *models.Checkpoint, captured time.Time) error {
	prev, err := v.neighborVisit(ctx, user, cp, cp.Number-1)
	if err != nil {
		return err
	}
	if prev != nil && !prev.CapturedAt.Before(captured) {
		return apperr.Validation("invalid_photo_time",
			fmt.Sprintf("photo time must be later than your time at checkpoint %d", cp.Number-1))
	}

	next, err := v.neighborVisit(ctx, user, cp, cp.Number+1)
	if err != nil {
		return err
	}
	if next != nil && !captured.Before(next.CapturedAt) {
		return apperr.Validation("invalid_photo_time",
			fmt.Sprintf("photo time must be earlier than your time at checkpoint %d", cp.Number+1))
	}
	return nil
}

// archivePhoto stores the proof photo and returns its URL and key. A failure
// is logged and the visit is kept without a photo.
func (v *Validator) archivePhoto(ctx context.Context, course *models.Course, user *models.User, sub Submission, captured time.Time) (string, string) {
	key := storage.ProofKey(course.ID.Hex(), user.ID.Hex(), captured, sub.ContentType)
	url, err := v.archive.Put(ctx, key, sub.ContentType, sub.Image)
	if err != nil {
		logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("proof photo archive failed")
		return "", ""
	}
	return url, key
}

// discardPhoto removes an archived photo no visit refers to.
func (v *Validator) discardPhoto(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := v.archive.Delete(ctx, key); err != nil {
		logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("proof photo cleanup failed")
	}
}
