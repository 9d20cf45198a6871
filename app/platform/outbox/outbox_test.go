package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"userdesk/app/database"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	return NewService(db)
}

func loadAction(t *testing.T, svc *Service, id uuid.UUID) database.PendingAction {
	t.Helper()

	var action database.PendingAction
	require.NoError(t, svc.db.First(&action, "id = ?", id).Error)
	return action
}

func TestEnqueueAndMarkDone(t *testing.T) {
	svc := newTestService(t)
	target := uuid.New()

	action, err := svc.Enqueue(ActionDeleteAccount, target, database.JSONObject{"email": "x@example.com"})
	require.NoError(t, err)
	assert.Equal(t, database.ActionStatusPending, action.Status)

	require.NoError(t, svc.MarkDone(action.ID))
	assert.Equal(t, database.ActionStatusDone, loadAction(t, svc, action.ID).Status)
}

func TestProcessPendingRetriesUntilSuccess(t *testing.T) {
	svc := newTestService(t)
	target := uuid.New()

	calls := 0
	svc.Register(ActionEnsureProfile, func(ctx context.Context, action *database.PendingAction) error {
		calls++
		if calls < 3 {
			return errors.New("store unavailable")
		}
		return nil
	})

	action, err := svc.Enqueue(ActionEnsureProfile, target, nil)
	require.NoError(t, err)

	ctx := context.Background()

	svc.processPending(ctx)
	assert.Equal(t, database.ActionStatusPending, loadAction(t, svc, action.ID).Status)
	assert.Equal(t, 1, loadAction(t, svc, action.ID).Attempts)
	assert.Equal(t, "store unavailable", loadAction(t, svc, action.ID).LastError)

	svc.processPending(ctx)
	svc.processPending(ctx)

	done := loadAction(t, svc, action.ID)
	assert.Equal(t, database.ActionStatusDone, done.Status)
	assert.Equal(t, 3, calls)

	// Completed actions are not picked up again.
	svc.processPending(ctx)
	assert.Equal(t, 3, calls)
}

func TestProcessPendingExhaustsAttempts(t *testing.T) {
	svc := newTestService(t)

	svc.Register(ActionDeleteAccount, func(ctx context.Context, action *database.PendingAction) error {
		return errors.New("permanent failure")
	})

	action, err := svc.Enqueue(ActionDeleteAccount, uuid.New(), nil)
	require.NoError(t, err)

	require.NoError(t, svc.db.Model(&database.PendingAction{}).
		Where("id = ?", action.ID).Update("max_attempts", 2).Error)

	ctx := context.Background()
	svc.processPending(ctx)
	assert.Equal(t, database.ActionStatusPending, loadAction(t, svc, action.ID).Status)

	svc.processPending(ctx)

	failed := loadAction(t, svc, action.ID)
	assert.Equal(t, database.ActionStatusFailed, failed.Status)
	assert.Equal(t, 2, failed.Attempts)

	// Failed actions need an operator, not another retry.
	svc.processPending(ctx)
	assert.Equal(t, 2, loadAction(t, svc, action.ID).Attempts)
}

func TestProcessPendingSkipsUnknownKinds(t *testing.T) {
	svc := newTestService(t)

	action, err := svc.Enqueue("unknown_kind", uuid.New(), nil)
	require.NoError(t, err)

	svc.processPending(context.Background())

	fresh := loadAction(t, svc, action.ID)
	assert.Equal(t, database.ActionStatusPending, fresh.Status)
	assert.Equal(t, 0, fresh.Attempts)
}
