package store_test

import (
	"context"
	"testing"
	"time"

	"trading-alerts/api/models"
	"trading-alerts/api/store"
	"trading-alerts/api/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestSaveUser_RejectsStaleCopy(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	u := repo.PutUser(&models.User{Email: "ana@example.com"})

	first, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	second, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)

	first.Name = "Ana"
	require.NoError(t, repo.SaveUser(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	second.Name = "Stale"
	err = repo.SaveUser(ctx, second)
	assert.ErrorIs(t, err, models.ErrStaleWrite)
	assert.ErrorIs(t, err, models.ErrConflict)

	got, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
}

func TestUpdateUser_RetriesAfterConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	u := repo.PutUser(&models.User{Email: "ana@example.com"})

	calls := 0
	got, err := store.UpdateUser(ctx, repo, u.ID, func(fresh *models.User) (bool, error) {
		calls++
		if calls == 1 {
			other, err := repo.GetUserByID(ctx, u.ID)
			require.NoError(t, err)
			other.TelegramChatID = 42
			require.NoError(t, repo.SaveUser(ctx, other))
		}
		fresh.Name = "Ana"
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, int64(42), got.TelegramChatID)
}

func TestUpdateUser_NoChangeSkipsSave(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	u := repo.PutUser(&models.User{Email: "ana@example.com"})

	got, err := store.UpdateUser(ctx, repo, u.ID, func(*models.User) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Version)
}

func TestSaveTraining_KeepsEnrollments(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	training := &models.MonthlyTraining{
		Title:       "Marzo",
		Month:       3,
		Year:        2026,
		MaxStudents: 2,
		Status:      models.TrainingOpen,
	}
	require.NoError(t, repo.CreateTraining(ctx, training))
	snapshot, err := repo.GetTraining(ctx, training.ID)
	require.NoError(t, err)

	student := repo.PutUser(&models.User{Email: "ana@example.com"})
	require.NoError(t, repo.AddEnrollment(ctx, training.ID, models.Enrollment{UserID: student.ID, EnrolledAt: now}))

	snapshot.Title = "Marzo avanzado"
	require.NoError(t, repo.SaveTraining(ctx, snapshot))
	got, err := repo.GetTraining(ctx, training.ID)
	require.NoError(t, err)
	assert.Equal(t, "Marzo avanzado", got.Title)
	assert.True(t, got.IsEnrolled(student.ID))

	snapshot.MaxStudents = 0
	assert.ErrorIs(t, repo.SaveTraining(ctx, snapshot), models.ErrConflict)
}

func TestSetTrainingStatus_OnlyFromExpected(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	training := &models.MonthlyTraining{Title: "Marzo", Month: 3, Year: 2026, MaxStudents: 5, Status: models.TrainingOpen}
	require.NoError(t, repo.CreateTraining(ctx, training))

	moved, err := repo.SetTrainingStatus(ctx, training.ID, models.TrainingOpen, models.TrainingClosed, now)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repo.SetTrainingStatus(ctx, training.ID, models.TrainingOpen, models.TrainingClosed, now)
	require.NoError(t, err)
	assert.False(t, moved)
}
