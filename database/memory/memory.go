// Package memory is an in-process implementation of database.Store.
// It enforces the same uniqueness rules as the Mongo indexes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type db struct {
	mu          sync.RWMutex
	users       map[bson.ObjectID]models.User
	sessions    map[bson.ObjectID]models.Session // by user id
	courses     map[bson.ObjectID]models.Course
	checkpoints map[bson.ObjectID]models.Checkpoint
	visits      map[bson.ObjectID]models.Visit
}

func New() *database.Store {
	d := &db{
		users:       map[bson.ObjectID]models.User{},
		sessions:    map[bson.ObjectID]models.Session{},
		courses:     map[bson.ObjectID]models.Course{},
		checkpoints: map[bson.ObjectID]models.Checkpoint{},
		visits:      map[bson.ObjectID]models.Visit{},
	}
	return &database.Store{
		Users:       users{d},
		Sessions:    sessions{d},
		Courses:     courses{d},
		Checkpoints: checkpoints{d},
		Visits:      visits{d},
	}
}

type users struct{ *db }

func (r users) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.users {
		if other.Email == u.Email {
			return database.ErrDuplicate
		}
	}
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	r.users[u.ID] = *u
	return nil
}

func (r users) FindByID(_ context.Context, id bson.ObjectID) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &u, nil
}

func (r users) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r users) Update(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return database.ErrNotFound
	}
	for id, other := range r.users {
		if id != u.ID && other.Email == u.Email {
			return database.ErrDuplicate
		}
	}
	r.users[u.ID] = *u
	return nil
}

func (r users) Delete(_ context.Context, id bson.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return database.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

type sessions struct{ *db }

func (r sessions) Replace(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID.IsZero() {
		s.ID = bson.NewObjectID()
	}
	r.sessions[s.UserID] = *s
	return nil
}

func (r sessions) FindByUser(_ context.Context, userID bson.ObjectID) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &s, nil
}

func (r sessions) DeleteByUser(_ context.Context, userID bson.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
	return nil
}

func (r sessions) DeleteIfRefresh(_ context.Context, userID bson.ObjectID, refreshToken string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok || s.RefreshToken != refreshToken {
		return false, nil
	}
	delete(r.sessions, userID)
	return true, nil
}

type courses struct{ *db }

func (r courses) Create(_ context.Context, c *models.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.courses {
		if other.Name == c.Name {
			return database.ErrDuplicate
		}
	}
	if c.ID.IsZero() {
		c.ID = bson.NewObjectID()
	}
	r.courses[c.ID] = cloneCourse(*c)
	return nil
}

func (r courses) FindByID(_ context.Context, id bson.ObjectID) (*models.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.courses[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	c = cloneCourse(c)
	return &c, nil
}

func (r courses) FindByName(_ context.Context, name string) (*models.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.courses {
		if c.Name == name {
			c = cloneCourse(c)
			return &c, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r courses) List(_ context.Context) ([]models.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Course, 0, len(r.courses))
	for _, c := range r.courses {
		out = append(out, cloneCourse(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r courses) ListByAdmin(_ context.Context, adminID bson.ObjectID) ([]models.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Course, 0)
	for _, c := range r.courses {
		if c.AdminID == adminID {
			out = append(out, cloneCourse(c))
		}
	}
	return out, nil
}

func (r courses) Update(_ context.Context, c *models.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.courses[c.ID]; !ok {
		return database.ErrNotFound
	}
	for id, other := range r.courses {
		if id != c.ID && other.Name == c.Name {
			return database.ErrDuplicate
		}
	}
	r.courses[c.ID] = cloneCourse(*c)
	return nil
}

func (r courses) Delete(_ context.Context, id bson.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.courses, id)
	return nil
}

func cloneCourse(c models.Course) models.Course {
	c.CheckpointIDs = append([]bson.ObjectID(nil), c.CheckpointIDs...)
	return c
}

type checkpoints struct{ *db }

// CreateMany is all-or-nothing.
func (r checkpoints) CreateMany(_ context.Context, cps []models.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	type key struct {
		course bson.ObjectID
		number int
	}
	qrs := map[string]bool{}
	numbers := map[key]bool{}
	for _, cp := range r.checkpoints {
		qrs[cp.QRCode] = true
		numbers[key{cp.CourseID, cp.Number}] = true
	}
	for _, cp := range cps {
		k := key{cp.CourseID, cp.Number}
		if qrs[cp.QRCode] || numbers[k] {
			return database.ErrDuplicate
		}
		qrs[cp.QRCode] = true
		numbers[k] = true
	}
	for i := range cps {
		if cps[i].ID.IsZero() {
			cps[i].ID = bson.NewObjectID()
		}
		r.checkpoints[cps[i].ID] = cps[i]
	}
	return nil
}

func (r checkpoints) ListByCourse(_ context.Context, courseID bson.ObjectID) ([]models.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Checkpoint, 0)
	for _, cp := range r.checkpoints {
		if cp.CourseID == courseID {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r checkpoints) FindByQRCode(_ context.Context, courseID bson.ObjectID, qrCode string) (*models.Checkpoint, error) {
	return r.find(func(cp models.Checkpoint) bool { return cp.CourseID == courseID && cp.QRCode == qrCode })
}

func (r checkpoints) FindByNumber(_ context.Context, courseID bson.ObjectID, number int) (*models.Checkpoint, error) {
	return r.find(func(cp models.Checkpoint) bool { return cp.CourseID == courseID && cp.Number == number })
}

func (r checkpoints) find(match func(models.Checkpoint) bool) (*models.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cp := range r.checkpoints {
		if match(cp) {
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r checkpoints) DeleteByCourse(_ context.Context, courseID bson.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cp := range r.checkpoints {
		if cp.CourseID == courseID {
			delete(r.checkpoints, id)
		}
	}
	return nil
}

type visits struct{ *db }

func (r visits) Find(_ context.Context, userID, checkpointID bson.ObjectID) (*models.Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.visits {
		if v.UserID == userID && v.CheckpointID == checkpointID {
			return &v, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r visits) Upsert(_ context.Context, v *models.Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.visits {
		if existing.UserID == v.UserID && existing.CheckpointID == v.CheckpointID {
			existing.CourseID = v.CourseID
			existing.CapturedAt = v.CapturedAt
			existing.PhotoURL = v.PhotoURL
			existing.PhotoKey = v.PhotoKey
			r.visits[id] = existing
			v.ID = existing.ID
			v.CreatedAt = existing.CreatedAt
			return nil
		}
	}
	if v.ID.IsZero() {
		v.ID = bson.NewObjectID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	r.visits[v.ID] = *v
	return nil
}

func (r visits) ListByCourse(_ context.Context, courseID bson.ObjectID) ([]models.Visit, error) {
	return r.list(func(v models.Visit) bool { return v.CourseID == courseID }), nil
}

func (r visits) ListByCourseAndUser(_ context.Context, courseID, userID bson.ObjectID) ([]models.Visit, error) {
	return r.list(func(v models.Visit) bool { return v.CourseID == courseID && v.UserID == userID }), nil
}

func (r visits) list(match func(models.Visit) bool) []models.Visit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Visit, 0)
	for _, v := range r.visits {
		if match(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out
}

func (r visits) CountByCourse(_ context.Context, courseID bson.ObjectID) (int64, error) {
	return int64(len(r.list(func(v models.Visit) bool { return v.CourseID == courseID }))), nil
}

func (r visits) DeleteByCourseAndUser(_ context.Context, courseID, userID bson.ObjectID) (int64, error) {
	return r.deleteWhere(func(v models.Visit) bool { return v.CourseID == courseID && v.UserID == userID }), nil
}

func (r visits) DeleteByCourse(_ context.Context, courseID bson.ObjectID) error {
	r.deleteWhere(func(v models.Visit) bool { return v.CourseID == courseID })
	return nil
}

func (r visits) DeleteByUser(_ context.Context, userID bson.ObjectID) error {
	r.deleteWhere(func(v models.Visit) bool { return v.UserID == userID })
	return nil
}

func (r visits) deleteWhere(match func(models.Visit) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, v := range r.visits {
		if match(v) {
			delete(r.visits, id)
			n++
		}
	}
	return n
}
