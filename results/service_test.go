package results

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
)

type fixture struct {
	store   *database.Store
	svc     *Service
	course  *models.Course
	admin   auth.Identity
	runners map[string]auth.Identity
}

func newFixture(t *testing.T, checkpoints int, emails ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	f := &fixture{store: store, runners: map[string]auth.Identity{}}

	for _, email := range append([]string{"admin@example.com"}, emails...) {
		u := &models.User{Email: email, Name: email[:3]}
		require.NoError(t, store.Users.Create(ctx, u))
		f.runners[email] = auth.Identity{UserID: u.ID, Email: email}
	}
	f.admin = f.runners["admin@example.com"]

	courseSvc := courses.NewService(store, nil)
	in := courses.CourseInput{Name: "Alpha"}
	for i := 0; i < checkpoints; i++ {
		in.Checkpoints = append(in.Checkpoints, courses.CheckpointInput{Number: i})
	}
	_, err := courseSvc.Create(ctx, f.admin, in)
	require.NoError(t, err)
	f.course, err = store.Courses.FindByName(ctx, "Alpha")
	require.NoError(t, err)
	f.svc = NewService(store, courseSvc, nil)
	return f
}

func (f *fixture) visit(t *testing.T, email string, number int, at time.Time) {
	t.Helper()
	require.NoError(t, f.store.Visits.Upsert(context.Background(), &models.Visit{
		UserID:       f.runners[email].UserID,
		CourseID:     f.course.ID,
		CheckpointID: f.course.CheckpointIDs[number],
		CapturedAt:   at,
	}))
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestListTimesRanksFinishersFirst(t *testing.T) {
	f := newFixture(t, 3, "ana@example.com", "bob@example.com", "cid@example.com")

	f.visit(t, "ana@example.com", 0, t0)
	f.visit(t, "ana@example.com", 1, t0.Add(5*time.Minute))
	f.visit(t, "ana@example.com", 2, t0.Add(12*time.Minute))

	f.visit(t, "bob@example.com", 0, t0)
	f.visit(t, "bob@example.com", 1, t0.Add(3*time.Minute))
	f.visit(t, "bob@example.com", 2, t0.Add(10*time.Minute))

	// cid skipped checkpoint 1
	f.visit(t, "cid@example.com", 0, t0)
	f.visit(t, "cid@example.com", 2, t0.Add(time.Minute))

	board, err := f.svc.ListTimes(context.Background(), f.runners["ana@example.com"], "Alpha")
	require.NoError(t, err)
	require.Len(t, board.Results, 3)

	assert.Equal(t, "bob@example.com", board.Results[0].User.Email)
	assert.EqualValues(t, 10*60*1000, board.Results[0].Time)
	assert.Equal(t, "ana@example.com", board.Results[1].User.Email)
	assert.EqualValues(t, 12*60*1000, board.Results[1].Time)
	assert.Equal(t, "cid@example.com", board.Results[2].User.Email)
	assert.Equal(t, Unfinished, board.Results[2].Time)
	assert.False(t, board.Results[2].Finished)

	assert.True(t, board.HasUploaded)
	assert.False(t, board.IsAdmin)
}

func TestListTimesForSpectator(t *testing.T) {
	f := newFixture(t, 2, "ana@example.com")
	f.visit(t, "ana@example.com", 0, t0)

	board, err := f.svc.ListTimes(context.Background(), f.admin, "Alpha")
	require.NoError(t, err)
	assert.True(t, board.IsAdmin)
	assert.False(t, board.HasUploaded)
	require.Len(t, board.Results, 1)
	assert.False(t, board.Results[0].Finished)

	_, err = f.svc.ListTimes(context.Background(), f.admin, "Beta")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUploadedTimes(t *testing.T) {
	f := newFixture(t, 3, "ana@example.com")
	f.visit(t, "ana@example.com", 2, t0)

	up, err := f.svc.UploadedTimes(context.Background(), f.runners["ana@example.com"], "Alpha")
	require.NoError(t, err)
	require.Len(t, up.Times, 3)
	assert.Nil(t, up.Times[0].Time)
	assert.Nil(t, up.Times[1].Time)
	require.NotNil(t, up.Times[2].Time)
	assert.True(t, up.Times[2].Time.Equal(t0))
	assert.Equal(t, 2, up.Times[2].Checkpoint)
}

func TestDeleteTimes(t *testing.T) {
	f := newFixture(t, 2, "ana@example.com", "bob@example.com")
	f.visit(t, "ana@example.com", 0, t0)
	f.visit(t, "ana@example.com", 1, t0.Add(time.Minute))
	f.visit(t, "bob@example.com", 0, t0)
	ctx := context.Background()

	_, err := f.svc.DeleteTimes(ctx, f.runners["bob@example.com"], "Alpha", "ana@example.com")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = f.svc.DeleteTimes(ctx, f.admin, "Alpha", "ghost@example.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.DeleteTimes(ctx, f.admin, "Beta", "ana@example.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	removed, err := f.svc.DeleteTimes(ctx, f.admin, "Alpha", "ANA@example.com")
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	board, err := f.svc.ListTimes(ctx, f.admin, "Alpha")
	require.NoError(t, err)
	require.Len(t, board.Results, 1)
	assert.Equal(t, "bob@example.com", board.Results[0].User.Email)
}
