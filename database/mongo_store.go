package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/princinho/racebackend/models"
	"github.com/princinho/racebackend/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	usersCollection       = "users"
	sessionsCollection    = "sessions"
	coursesCollection     = "courses"
	checkpointsCollection = "checkpoints"
	visitsCollection      = "visits"
)

// NewMongoStore builds a Store over db. Call EnsureIndexes before serving traffic.
func NewMongoStore(db *mongo.Database) *Store {
	return &Store{
		Users:       &mongoUsers{col: db.Collection(usersCollection)},
		Sessions:    &mongoSessions{col: db.Collection(sessionsCollection)},
		Courses:     &mongoCourses{col: db.Collection(coursesCollection)},
		Checkpoints: &mongoCheckpoints{col: db.Collection(checkpointsCollection)},
		Visits:      &mongoVisits{col: db.Collection(visitsCollection)},
		Ping: func(ctx context.Context) error {
			ctx, cancel := withTimeout(ctx)
			defer cancel()
			return db.Client().Ping(ctx, readpref.Primary())
		},
	}
}

// EnsureIndexes creates the unique indexes the services rely on to settle races.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	unique := func(keys bson.D) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)}
	}
	plan := map[string][]mongo.IndexModel{
		usersCollection:    {unique(bson.D{{Key: "email", Value: 1}})},
		sessionsCollection: {unique(bson.D{{Key: "userId", Value: 1}})},
		coursesCollection: {
			unique(bson.D{{Key: "name", Value: 1}}),
			{Keys: bson.D{{Key: "adminId", Value: 1}}},
		},
		checkpointsCollection: {
			unique(bson.D{{Key: "qrCode", Value: 1}}),
			unique(bson.D{{Key: "courseId", Value: 1}, {Key: "number", Value: 1}}),
		},
		visitsCollection: {
			unique(bson.D{{Key: "userId", Value: 1}, {Key: "checkpointId", Value: 1}}),
			{Keys: bson.D{{Key: "courseId", Value: 1}, {Key: "userId", Value: 1}}},
		},
	}
	for name, idx := range plan {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case utils.IsDuplicateKey(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func findOne[T any](ctx context.Context, col *mongo.Collection, filter bson.M) (*T, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var out T
	if err := col.FindOne(ctx, filter).Decode(&out); err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

func findMany[T any](ctx context.Context, col *mongo.Collection, filter bson.M, opts ...options.Lister[options.FindOptions]) ([]T, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deleteMany(ctx context.Context, col *mongo.Collection, filter bson.M) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := col.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

type mongoUsers struct{ col *mongo.Collection }

func (r *mongoUsers) Create(ctx context.Context, u *models.User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	_, err := r.col.InsertOne(ctx, u)
	return mapErr(err)
}

func (r *mongoUsers) FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	return findOne[models.User](ctx, r.col, bson.M{"_id": id})
}

func (r *mongoUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return findOne[models.User](ctx, r.col, bson.M{"email": email})
}

func (r *mongoUsers) Update(ctx context.Context, u *models.User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoUsers) Delete(ctx context.Context, id bson.ObjectID) error {
	n, err := deleteMany(ctx, r.col, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoSessions struct{ col *mongo.Collection }

func (r *mongoSessions) Replace(ctx context.Context, s *models.Session) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if s.ID.IsZero() {
		s.ID = bson.NewObjectID()
	}
	update := bson.M{
		"$set": bson.M{
			"accessToken":  s.AccessToken,
			"refreshToken": s.RefreshToken,
			"createdAt":    s.CreatedAt,
		},
		"$setOnInsert": bson.M{"_id": s.ID},
	}
	_, err := r.col.UpdateOne(ctx, bson.M{"userId": s.UserID}, update, options.UpdateOne().SetUpsert(true))
	return mapErr(err)
}

func (r *mongoSessions) FindByUser(ctx context.Context, userID bson.ObjectID) (*models.Session, error) {
	return findOne[models.Session](ctx, r.col, bson.M{"userId": userID})
}

func (r *mongoSessions) DeleteByUser(ctx context.Context, userID bson.ObjectID) error {
	_, err := deleteMany(ctx, r.col, bson.M{"userId": userID})
	return err
}

func (r *mongoSessions) DeleteIfRefresh(ctx context.Context, userID bson.ObjectID, refreshToken string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := r.col.DeleteOne(ctx, bson.M{"userId": userID, "refreshToken": refreshToken})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

type mongoCourses struct{ col *mongo.Collection }

func (r *mongoCourses) Create(ctx context.Context, c *models.Course) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if c.ID.IsZero() {
		c.ID = bson.NewObjectID()
	}
	_, err := r.col.InsertOne(ctx, c)
	return mapErr(err)
}

func (r *mongoCourses) FindByID(ctx context.Context, id bson.ObjectID) (*models.Course, error) {
	return findOne[models.Course](ctx, r.col, bson.M{"_id": id})
}

func (r *mongoCourses) FindByName(ctx context.Context, name string) (*models.Course, error) {
	return findOne[models.Course](ctx, r.col, bson.M{"name": name})
}

func (r *mongoCourses) List(ctx context.Context) ([]models.Course, error) {
	return findMany[models.Course](ctx, r.col, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

func (r *mongoCourses) ListByAdmin(ctx context.Context, adminID bson.ObjectID) ([]models.Course, error) {
	return findMany[models.Course](ctx, r.col, bson.M{"adminId": adminID})
}

func (r *mongoCourses) Update(ctx context.Context, c *models.Course) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoCourses) Delete(ctx context.Context, id bson.ObjectID) error {
	_, err := deleteMany(ctx, r.col, bson.M{"_id": id})
	return err
}

type mongoCheckpoints struct{ col *mongo.Collection }

func (r *mongoCheckpoints) CreateMany(ctx context.Context, cps []models.Checkpoint) error {
	if len(cps) == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	docs := make([]any, 0, len(cps))
	for i := range cps {
		if cps[i].ID.IsZero() {
			cps[i].ID = bson.NewObjectID()
		}
		docs = append(docs, cps[i])
	}
	_, err := r.col.InsertMany(ctx, docs)
	return mapErr(err)
}

func (r *mongoCheckpoints) ListByCourse(ctx context.Context, courseID bson.ObjectID) ([]models.Checkpoint, error) {
	return findMany[models.Checkpoint](ctx, r.col, bson.M{"courseId": courseID}, options.Find().SetSort(bson.D{{Key: "number", Value: 1}}))
}

func (r *mongoCheckpoints) FindByQRCode(ctx context.Context, courseID bson.ObjectID, qrCode string) (*models.Checkpoint, error) {
	return findOne[models.Checkpoint](ctx, r.col, bson.M{"courseId": courseID, "qrCode": qrCode})
}

func (r *mongoCheckpoints) FindByNumber(ctx context.Context, courseID bson.ObjectID, number int) (*models.Checkpoint, error) {
	return findOne[models.Checkpoint](ctx, r.col, bson.M{"courseId": courseID, "number": number})
}

func (r *mongoCheckpoints) DeleteByCourse(ctx context.Context, courseID bson.ObjectID) error {
	_, err := deleteMany(ctx, r.col, bson.M{"courseId": courseID})
	return err
}

type mongoVisits struct{ col *mongo.Collection }

func (r *mongoVisits) Find(ctx context.Context, userID, checkpointID bson.ObjectID) (*models.Visit, error) {
	return findOne[models.Visit](ctx, r.col, bson.M{"userId": userID, "checkpointId": checkpointID})
}

func (r *mongoVisits) Upsert(ctx context.Context, v *models.Visit) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if v.ID.IsZero() {
		v.ID = bson.NewObjectID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	filter := bson.M{"userId": v.UserID, "checkpointId": v.CheckpointID}
	update := bson.M{
		"$set": bson.M{
			"courseId":   v.CourseID,
			"capturedAt": v.CapturedAt,
			"photoUrl":   v.PhotoURL,
			"photoKey":   v.PhotoKey,
		},
		"$setOnInsert": bson.M{
			"_id":       v.ID,
			"createdAt": v.CreatedAt,
		},
	}
	_, err := r.col.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return mapErr(err)
}

func (r *mongoVisits) ListByCourse(ctx context.Context, courseID bson.ObjectID) ([]models.Visit, error) {
	return findMany[models.Visit](ctx, r.col, bson.M{"courseId": courseID})
}

func (r *mongoVisits) ListByCourseAndUser(ctx context.Context, courseID, userID bson.ObjectID) ([]models.Visit, error) {
	return findMany[models.Visit](ctx, r.col, bson.M{"courseId": courseID, "userId": userID})
}

func (r *mongoVisits) CountByCourse(ctx context.Context, courseID bson.ObjectID) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return r.col.CountDocuments(ctx, bson.M{"courseId": courseID})
}

func (r *mongoVisits) DeleteByCourseAndUser(ctx context.Context, courseID, userID bson.ObjectID) (int64, error) {
	return deleteMany(ctx, r.col, bson.M{"courseId": courseID, "userId": userID})
}

func (r *mongoVisits) DeleteByCourse(ctx context.Context, courseID bson.ObjectID) error {
	_, err := deleteMany(ctx, r.col, bson.M{"courseId": courseID})
	return err
}

func (r *mongoVisits) DeleteByUser(ctx context.Context, userID bson.ObjectID) error {
	_, err := deleteMany(ctx, r.col, bson.M{"userId": userID})
	return err
}
