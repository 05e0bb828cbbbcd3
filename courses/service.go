package courses

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/events"
	"github.com/princinho/racebackend/logger"
	"github.com/princinho/racebackend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type CourseInput struct {
	Name        string
	Checkpoints []CheckpointInput
}

// UpdateInput leaves a field unchanged when nil.
type UpdateInput struct {
	Name        *string
	Checkpoints []CheckpointInput
}

type AdminView struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type CheckpointView struct {
	Number int     `json:"number"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	QRCode string  `json:"qr_code,omitempty"`
}

type CourseView struct {
	Name        string           `json:"name"`
	Admin       AdminView        `json:"admin"`
	Checkpoints []CheckpointView `json:"checkpoints"`
	IsAdmin     bool             `json:"is_admin"`
}

type Service struct {
	store  *database.Store
	events events.Publisher
	now    func() time.Time
}

func NewService(store *database.Store, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: store, events: pub, now: time.Now}
}

func internal(err error) error {
	return apperr.Processing("internal server error", err)
}

// Lookup resolves a course by name.
func (s *Service) Lookup(ctx context.Context, rawName string) (*models.Course, error) {
	course, err := s.store.Courses.FindByName(ctx, normalizeLookup(rawName))
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("course_not_found", "course not found")
	}
	if err != nil {
		return nil, internal(err)
	}
	return course, nil
}

func normalizeLookup(raw string) string {
	name, err := NormalizeName(raw)
	if err != nil {
		return raw
	}
	return name
}

func (s *Service) Create(ctx context.Context, id auth.Identity, in CourseInput) (*CourseView, error) {
	name, err := NormalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validateCheckpoints(in.Checkpoints); err != nil {
		return nil, err
	}

	admin, err := s.store.Users.FindByID(ctx, id.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFound("admin_not_found", "admin user not found")
	}
	if err != nil {
		return nil, internal(err)
	}

	if _, err := s.store.Courses.FindByName(ctx, name); err == nil {
		return nil, apperr.Conflict("course_exists", "a course with this name already exists")
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, internal(err)
	}

	now := s.now().UTC()
	course := &models.Course{
		ID:        bson.NewObjectID(),
		Name:      name,
		AdminID:   admin.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cps := buildCheckpoints(course, in.Checkpoints)

	if err := s.store.Courses.Create(ctx, course); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperr.Conflict("course_exists", "a course with this name already exists")
		}
		return nil, internal(err)
	}
	if err := s.store.Checkpoints.CreateMany(ctx, cps); err != nil {
		s.rollbackCreate(ctx, course)
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperr.Conflict("checkpoint_conflict", "checkpoint codes collide with an existing course")
		}
		return nil, internal(err)
	}

	logger.WithContext(ctx).WithField("course", course.Name).Info("course created")
	return view(course, admin, cps, true), nil
}

func (s *Service) rollbackCreate(ctx context.Context, course *models.Course) {
	log := logger.WithContext(ctx).WithField("course", course.Name)
	if err := s.store.Checkpoints.DeleteByCourse(ctx, course.ID); err != nil {
		log.WithError(err).Error("rollback: delete checkpoints failed")
	}
	if err := s.store.Courses.Delete(ctx, course.ID); err != nil {
		log.WithError(err).Error("rollback: delete course failed")
	}
}

// buildCheckpoints assigns ids and derives QR codes, sorted by number.
func buildCheckpoints(course *models.Course, in []CheckpointInput) []models.Checkpoint {
	sorted := append([]CheckpointInput(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	cps := make([]models.Checkpoint, 0, len(sorted))
	course.CheckpointIDs = make([]bson.ObjectID, 0, len(sorted))
	for _, cp := range sorted {
		m := models.Checkpoint{
			ID:       bson.NewObjectID(),
			CourseID: course.ID,
			Number:   cp.Number,
			Lat:      cp.Lat,
			Lng:      cp.Lng,
			QRCode:   DeriveQRCode(course.Name, cp.Number),
		}
		cps = append(cps, m)
		course.CheckpointIDs = append(course.CheckpointIDs, m.ID)
	}
	return cps
}

func view(course *models.Course, admin *models.User, cps []models.Checkpoint, isAdmin bool) *CourseView {
	v := &CourseView{
		Name:        course.Name,
		Checkpoints: make([]CheckpointView, 0, len(cps)),
		IsAdmin:     isAdmin,
	}
	if admin != nil {
		v.Admin.Name = admin.Name
		if isAdmin {
			v.Admin.Email = admin.Email
		}
	}
	for _, cp := range cps {
		cv := CheckpointView{Number: cp.Number, Lat: cp.Lat, Lng: cp.Lng}
		if isAdmin {
			cv.QRCode = cp.QRCode
		}
		v.Checkpoints = append(v.Checkpoints, cv)
	}
	return v
}

// Get shows QR codes only to the course admin.
func (s *Service) Get(ctx context.Context, id auth.Identity, name string) (*CourseView, error) {
	course, err := s.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, id, course, true)
}

func (s *Service) describe(ctx context.Context, id auth.Identity, course *models.Course, withCodes bool) (*CourseView, error) {
	cps, err := s.store.Checkpoints.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, internal(err)
	}
	admin, err := s.store.Users.FindByID(ctx, course.AdminID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, internal(err)
	}
	isAdmin := course.AdminID == id.UserID
	v := view(course, admin, cps, isAdmin && withCodes)
	v.IsAdmin = isAdmin
	return v, nil
}

// List returns every course without QR codes.
func (s *Service) List(ctx context.Context, id auth.Identity) ([]CourseView, error) {
	all, err := s.store.Courses.List(ctx)
	if err != nil {
		return nil, internal(err)
	}
	out := make([]CourseView, 0, len(all))
	for i := range all {
		v, err := s.describe(ctx, id, &all[i], false)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// Update is refused once any visit has been recorded on the course.
// Renaming or replacing checkpoints regenerates every QR code.
func (s *Service) Update(ctx context.Context, id auth.Identity, name string, in UpdateInput) (*CourseView, error) {
	course, err := s.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if course.AdminID != id.UserID {
		return nil, apperr.Unauthorized("not_course_admin", "only the course admin can modify it")
	}
	visits, err := s.store.Visits.CountByCourse(ctx, course.ID)
	if err != nil {
		return nil, internal(err)
	}
	if visits > 0 {
		return nil, apperr.Conflict("course_has_visits", "course can't be modified once visits are recorded")
	}

	oldCourse := *course
	oldCps, err := s.store.Checkpoints.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, internal(err)
	}

	if in.Name != nil {
		newName, err := NormalizeName(*in.Name)
		if err != nil {
			return nil, err
		}
		if newName != course.Name {
			if _, err := s.store.Courses.FindByName(ctx, newName); err == nil {
				return nil, apperr.Conflict("course_exists", "a course with this name already exists")
			} else if !errors.Is(err, database.ErrNotFound) {
				return nil, internal(err)
			}
		}
		course.Name = newName
	}

	inputs := in.Checkpoints
	if inputs == nil {
		for _, cp := range oldCps {
			inputs = append(inputs, CheckpointInput{Number: cp.Number, Lat: cp.Lat, Lng: cp.Lng})
		}
	} else if err := validateCheckpoints(inputs); err != nil {
		return nil, err
	}

	cps := buildCheckpoints(course, inputs)
	course.UpdatedAt = s.now().UTC()
	if err := s.store.Courses.Update(ctx, course); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperr.Conflict("course_exists", "a course with this name already exists")
		}
		return nil, internal(err)
	}
	if err := s.replaceCheckpoints(ctx, course.ID, oldCps, cps); err != nil {
		if rerr := s.store.Courses.Update(ctx, &oldCourse); rerr != nil {
			logger.WithContext(ctx).WithError(rerr).Error("restore course after failed update")
		}
		return nil, err
	}

	logger.WithContext(ctx).WithField("course", course.Name).Info("course updated")
	return s.describe(ctx, id, course, true)
}

// replaceCheckpoints swaps old for new and restores old when the insert fails.
func (s *Service) replaceCheckpoints(ctx context.Context, courseID bson.ObjectID, old, next []models.Checkpoint) error {
	if err := s.store.Checkpoints.DeleteByCourse(ctx, courseID); err != nil {
		return internal(err)
	}
	if err := s.store.Checkpoints.CreateMany(ctx, next); err != nil {
		if rerr := s.store.Checkpoints.CreateMany(ctx, old); rerr != nil {
			logger.WithContext(ctx).WithError(rerr).Error("restore checkpoints after failed update")
		}
		if errors.Is(err, database.ErrDuplicate) {
			return apperr.Conflict("checkpoint_conflict", "checkpoint codes collide with an existing course")
		}
		return internal(err)
	}
	return nil
}

// Delete removes the course with its checkpoints and visits. Admin only.
func (s *Service) Delete(ctx context.Context, id auth.Identity, name string) error {
	course, err := s.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if course.AdminID != id.UserID {
		return apperr.Unauthorized("not_course_admin", "only the course admin can delete it")
	}
	return s.cascade(ctx, course)
}

// DeleteOwnedBy removes every course administered by userID.
func (s *Service) DeleteOwnedBy(ctx context.Context, userID bson.ObjectID) error {
	owned, err := s.store.Courses.ListByAdmin(ctx, userID)
	if err != nil {
		return internal(err)
	}
	for i := range owned {
		if err := s.cascade(ctx, &owned[i]); err != nil {
			return err
		}
	}
	return nil
}

// cascade deletes children first so a failure leaves the course in place to retry.
func (s *Service) cascade(ctx context.Context, course *models.Course) error {
	if err := s.store.Visits.DeleteByCourse(ctx, course.ID); err != nil {
		return internal(err)
	}
	if err := s.store.Checkpoints.DeleteByCourse(ctx, course.ID); err != nil {
		return internal(err)
	}
	if err := s.store.Courses.Delete(ctx, course.ID); err != nil {
		return internal(err)
	}
	logger.WithContext(ctx).WithField("course", course.Name).Info("course deleted")
	events.PublishBestEffort(ctx, s.events, events.SubjectCourseDeleted, events.CourseDeleted{Course: course.Name})
	return nil
}
