package results

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/courses"
	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/events"
	"github.com/princinho/racebackend/logger"
	"github.com/princinho/racebackend/models"
	"github.com/princinho/racebackend/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Unfinished is the elapsed time reported for incomplete runs. It is the
// largest integer a JSON number holds exactly.
const Unfinished int64 = 1<<53 - 1

type UserRef struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Entry struct {
	Course   string  `json:"course"`
	User     UserRef `json:"user"`
	Time     int64   `json:"time"`
	Finished bool    `json:"finished"`
}

type Leaderboard struct {
	Course      string  `json:"course"`
	Results     []Entry `json:"results"`
	HasUploaded bool    `json:"has_uploaded"`
	IsAdmin     bool    `json:"is_admin"`
}

type CheckpointTime struct {
	Checkpoint int        `json:"checkpoint"`
	Time       *time.Time `json:"time"`
}

type Uploaded struct {
	Course  string           `json:"course"`
	Times   []CheckpointTime `json:"times"`
	IsAdmin bool             `json:"is_admin"`
}

type Service struct {
	store   *database.Store
	courses *courses.Service
	events  events.Publisher
}

func NewService(store *database.Store, courseSvc *courses.Service, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: store, courses: courseSvc, events: pub}
}

func internal(err error) error {
	return apperr.Processing("internal server error", err)
}

// ListTimes ranks every user with at least one visit. Finished runs come
// first by elapsed time; ties are broken by email.
func (s *Service) ListTimes(ctx context.Context, id auth.Identity, courseName string) (*Leaderboard, error) {
	course, err := s.courses.Lookup(ctx, courseName)
	if err != nil {
		return nil, err
	}
	cps, err := s.store.Checkpoints.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, internal(err)
	}
	visits, err := s.store.Visits.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, internal(err)
	}

	board := &Leaderboard{
		Course:  course.Name,
		Results: make([]Entry, 0),
		IsAdmin: course.AdminID == id.UserID,
	}

	byUser := map[bson.ObjectID]map[bson.ObjectID]time.Time{}
	for _, v := range visits {
		if byUser[v.UserID] == nil {
			byUser[v.UserID] = map[bson.ObjectID]time.Time{}
		}
		byUser[v.UserID][v.CheckpointID] = v.CapturedAt
	}
	_, board.HasUploaded = byUser[id.UserID]

	for userID, times := range byUser {
		user, err := s.store.Users.FindByID(ctx, userID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, internal(err)
		}
		entry := Entry{
			Course: course.Name,
			User:   UserRef{Email: user.Email, Name: user.Name},
			Time:   Unfinished,
		}
		if elapsed, ok := elapsedMillis(cps, times); ok {
			entry.Time = elapsed
			entry.Finished = true
		}
		board.Results = append(board.Results, entry)
	}

	sort.Slice(board.Results, func(i, j int) bool {
		a, b := board.Results[i], board.Results[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.User.Email < b.User.Email
	})
	return board, nil
}

// elapsedMillis is finish minus start, defined only when every checkpoint
// of the course has a visit.
func elapsedMillis(cps []models.Checkpoint, times map[bson.ObjectID]time.Time) (int64, bool) {
	if len(cps) == 0 {
		return 0, false
	}
	for _, cp := range cps {
		if _, ok := times[cp.ID]; !ok {
			return 0, false
		}
	}
	start := times[cps[0].ID]
	finish := times[cps[len(cps)-1].ID]
	return finish.Sub(start).Milliseconds(), true
}

// UploadedTimes lists the caller's own time at each checkpoint, nil where
// nothing was proven yet.
func (s *Service) UploadedTimes(ctx context.Context, id auth.Identity, courseName string) (*Uploaded, error) {
	course, err := s.courses.Lookup(ctx, courseName)
	if err != nil {
		return nil, err
	}
	cps, err := s.store.Checkpoints.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, internal(err)
	}
	visits, err := s.store.Visits.ListByCourseAndUser(ctx, course.ID, id.UserID)
	if err != nil {
		return nil, internal(err)
	}
	byCheckpoint := make(map[bson.ObjectID]time.Time, len(visits))
	for _, v := range visits {
		byCheckpoint[v.CheckpointID] = v.CapturedAt
	}

	out := &Uploaded{
		Course:  course.Name,
		Times:   make([]CheckpointTime, 0, len(cps)),
		IsAdmin: course.AdminID == id.UserID,
	}
	for _, cp := range cps {
		ct := CheckpointTime{Checkpoint: cp.Number}
		if t, ok := byCheckpoint[cp.ID]; ok {
			t := t
			ct.Time = &t
		}
		out.Times = append(out.Times, ct)
	}
	return out, nil
}

// DeleteTimes removes every visit of the user with email on the course.
// Only the course admin may do it.
func (s *Service) DeleteTimes(ctx context.Context, id auth.Identity, courseName, email string) (int64, error) {
	course, err := s.courses.Lookup(ctx, courseName)
	if err != nil {
		return 0, err
	}
	user, err := s.store.Users.FindByEmail(ctx, utils.NormalizeEmail(email))
	if errors.Is(err, database.ErrNotFound) {
		return 0, apperr.NotFound("user_not_found", "user not found")
	}
	if err != nil {
		return 0, internal(err)
	}
	if course.AdminID != id.UserID {
		return 0, apperr.Unauthorized("not_course_admin", "only the course admin can delete times")
	}

	removed, err := s.store.Visits.DeleteByCourseAndUser(ctx, course.ID, user.ID)
	if err != nil {
		return 0, internal(err)
	}
	logger.WithContext(ctx).WithField("course", course.Name).WithField("user", user.Email).
		WithField("removed", removed).Info("times deleted")
	events.PublishBestEffort(ctx, s.events, events.SubjectTimesDeleted, events.TimesDeleted{
		Course: course.Name, UserEmail: user.Email, Removed: removed,
	})
	return removed, nil
}
