package users

import (
	"context"
	"testing"
	"time"

	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/courses"
	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/database/memory"
	"github.com/princinho/racebackend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	store     *database.Store
	authority *auth.Authority
	courses   *courses.Service
	users     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	authority := auth.NewAuthority(store.Users, store.Sessions, auth.BcryptHasher{Cost: bcrypt.MinCost}, auth.TokenConfig{
		AccessSecret: "a", RefreshSecret: "r", AccessTTL: time.Minute, RefreshTTL: time.Hour,
	})
	courseSvc := courses.NewService(store, nil)
	return &fixture{store: store, authority: authority, courses: courseSvc, users: NewService(store, authority, courseSvc, nil)}
}

func (f *fixture) signup(t *testing.T, email string) (auth.Identity, *auth.TokenPair) {
	t.Helper()
	ctx := context.Background()
	u, err := f.authority.Register(ctx, auth.RegisterInput{Email: email, Name: "Runner", Password: "password1"})
	require.NoError(t, err)
	pair, err := f.authority.Login(ctx, email, "password1")
	require.NoError(t, err)
	return auth.Identity{UserID: u.ID, Email: u.Email}, pair
}

func ptr(s string) *string { return &s }

func TestGetProfile(t *testing.T) {
	f := newFixture(t)
	id, _ := f.signup(t, "ana@example.com")

	p, err := f.users.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", p.Email)
	assert.Equal(t, "Runner", p.Name)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, pair := f.signup(t, "ana@example.com")
	f.signup(t, "bob@example.com")

	p, err := f.users.Update(ctx, id, UpdateInput{Name: ptr("Ana"), PhoneNumber: ptr("06 12 34 56 78")})
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)
	assert.Equal(t, "0612345678", p.PhoneNumber)

	// profile changes keep the session
	_, err = f.authority.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)

	_, err = f.users.Update(ctx, id, UpdateInput{Email: ptr("BOB@example.com")})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.users.Update(ctx, id, UpdateInput{PhoneNumber: ptr("12")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.users.Update(ctx, id, UpdateInput{Email: ptr("nope")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestPasswordChangeEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, pair := f.signup(t, "ana@example.com")

	_, err := f.users.Update(ctx, id, UpdateInput{Password: ptr("new-password")})
	require.NoError(t, err)

	_, err = f.authority.Authenticate(ctx, pair.AccessToken)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = f.authority.Login(ctx, "ana@example.com", "new-password")
	assert.NoError(t, err)
}

func TestDeleteUserCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin, pair := f.signup(t, "admin@example.com")
	runner, _ := f.signup(t, "runner@example.com")

	_, err := f.courses.Create(ctx, admin, courses.CourseInput{Name: "Alpha", Checkpoints: []courses.CheckpointInput{{Number: 0}, {Number: 1}}})
	require.NoError(t, err)
	_, err = f.courses.Create(ctx, runner, courses.CourseInput{Name: "Beta", Checkpoints: []courses.CheckpointInput{{Number: 0}, {Number: 1}}})
	require.NoError(t, err)

	alpha, err := f.store.Courses.FindByName(ctx, "Alpha")
	require.NoError(t, err)
	beta, err := f.store.Courses.FindByName(ctx, "Beta")
	require.NoError(t, err)
	require.NoError(t, f.store.Visits.Upsert(ctx, &models.Visit{UserID: runner.UserID, CourseID: alpha.ID, CheckpointID: alpha.CheckpointIDs[0], CapturedAt: time.Now()}))
	require.NoError(t, f.store.Visits.Upsert(ctx, &models.Visit{UserID: admin.UserID, CourseID: beta.ID, CheckpointID: beta.CheckpointIDs[0], CapturedAt: time.Now()}))

	require.NoError(t, f.users.Delete(ctx, admin))

	_, err = f.store.Users.FindByID(ctx, admin.UserID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.store.Sessions.FindByUser(ctx, admin.UserID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.store.Courses.FindByName(ctx, "Alpha")
	assert.ErrorIs(t, err, database.ErrNotFound)
	cps, err := f.store.Checkpoints.ListByCourse(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Empty(t, cps)
	n, err := f.store.Visits.CountByCourse(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the runner's course survives without the deleted user's visit
	_, err = f.store.Courses.FindByName(ctx, "Beta")
	require.NoError(t, err)
	n, err = f.store.Visits.CountByCourse(ctx, beta.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.authority.Authenticate(ctx, pair.AccessToken)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}
