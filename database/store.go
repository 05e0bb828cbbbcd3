package database

import (
	"context"
	"errors"

	"github.com/princinho/racebackend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	ErrNotFound  = errors.New("database: not found")
	ErrDuplicate = errors.New("database: duplicate key")
)

type Users interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id bson.ObjectID) error
}

type Sessions interface {
	// Replace stores s as the only session of s.UserID.
	Replace(ctx context.Context, s *models.Session) error
	FindByUser(ctx context.Context, userID bson.ObjectID) (*models.Session, error)
	DeleteByUser(ctx context.Context, userID bson.ObjectID) error
	// DeleteIfRefresh deletes the session only when it still holds refreshToken.
	DeleteIfRefresh(ctx context.Context, userID bson.ObjectID, refreshToken string) (bool, error)
}

type Courses interface {
	Create(ctx context.Context, c *models.Course) error
	FindByID(ctx context.Context, id bson.ObjectID) (*models.Course, error)
	FindByName(ctx context.Context, name string) (*models.Course, error)
	List(ctx context.Context) ([]models.Course, error)
	ListByAdmin(ctx context.Context, adminID bson.ObjectID) ([]models.Course, error)
	Update(ctx context.Context, c *models.Course) error
	Delete(ctx context.Context, id bson.ObjectID) error
}

type Checkpoints interface {
	CreateMany(ctx context.Context, cps []models.Checkpoint) error
	// ListByCourse returns checkpoints ordered by number.
	ListByCourse(ctx context.Context, courseID bson.ObjectID) ([]models.Checkpoint, error)
	FindByQRCode(ctx context.Context, courseID bson.ObjectID, qrCode string) (*models.Checkpoint, error)
	FindByNumber(ctx context.Context, courseID bson.ObjectID, number int) (*models.Checkpoint, error)
	DeleteByCourse(ctx context.Context, courseID bson.ObjectID) error
}

type Visits interface {
	Find(ctx context.Context, userID, checkpointID bson.ObjectID) (*models.Visit, error)
	// Upsert writes v as the visit of (v.UserID, v.CheckpointID).
	Upsert(ctx context.Context, v *models.Visit) error
	ListByCourse(ctx context.Context, courseID bson.ObjectID) ([]models.Visit, error)
	ListByCourseAndUser(ctx context.Context, courseID, userID bson.ObjectID) ([]models.Visit, error)
	CountByCourse(ctx context.Context, courseID bson.ObjectID) (int64, error)
	DeleteByCourseAndUser(ctx context.Context, courseID, userID bson.ObjectID) (int64, error)
	DeleteByCourse(ctx context.Context, courseID bson.ObjectID) error
	DeleteByUser(ctx context.Context, userID bson.ObjectID) error
}

// Store groups the record collections used by the services.
type Store struct {
	Users       Users
	Sessions    Sessions
	Courses     Courses
	Checkpoints Checkpoints
	Visits      Visits

	// Ping reports store health. Nil means always healthy.
	Ping func(ctx context.Context) error
}
