package profile

import (
	"fmt"
	"testing"
	"time"

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

func TestEnsureCreatesAndReturnsExisting(t *testing.T) {
	svc := newTestService(t)
	id := uuid.New()

	info, err := svc.Ensure(id, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, database.RoleUser, info.Role)

	again, err := svc.Ensure(id, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, info.ID, again.ID)

	all, err := svc.List(10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFirstTimeLoginFlag(t *testing.T) {
	svc := newTestService(t)
	id := uuid.New()

	info, err := svc.Ensure(id, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, svc.IsFirstTimeLogin(info))

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, svc.TouchLastLogin(id))

	fresh, err := svc.GetByID(id)
	require.NoError(t, err)
	assert.False(t, svc.IsFirstTimeLogin(fresh))
}

func TestGetByEmailNormalizes(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Ensure(uuid.New(), "alice@example.com")
	require.NoError(t, err)

	info, err := svc.GetByEmail("  ALICE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", info.Email)

	_, err = svc.GetByEmail("nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirstAndCapped(t *testing.T) {
	svc := newTestService(t)

	for i := 0; i < 3; i++ {
		_, err := svc.Ensure(uuid.New(), fmt.Sprintf("user%d@example.com", i))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	infos, err := svc.List(10, 0)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "user2@example.com", infos[0].Email)
	assert.Equal(t, "user0@example.com", infos[2].Email)

	capped, err := svc.List(0, 0)
	require.NoError(t, err)
	assert.Len(t, capped, 3)

	paged, err := svc.List(2, 2)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "user0@example.com", paged[0].Email)
}

func TestCreateUpsertsExistingRow(t *testing.T) {
	svc := newTestService(t)
	id := uuid.New()

	// An invite race already created a bare row.
	_, err := svc.Ensure(id, "bob@example.com")
	require.NoError(t, err)

	firstName := "Bob"
	lastName := "Jones"
	err = svc.Create(&database.UserInfo{
		ID:        id,
		FirstName: &firstName,
		LastName:  &lastName,
		Email:     "bob@example.com",
		Role:      database.RoleAdmin,
	})
	require.NoError(t, err)

	info, err := svc.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, info.FirstName)
	assert.Equal(t, "Bob", *info.FirstName)
	assert.Equal(t, database.RoleAdmin, info.Role)

	all, err := svc.List(10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteAndNotFound(t *testing.T) {
	svc := newTestService(t)
	id := uuid.New()

	_, err := svc.Ensure(id, "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(id))

	_, err = svc.GetByID(id)
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	require.NoError(t, svc.Delete(id))
}

func TestSetMFAEnabled(t *testing.T) {
	svc := newTestService(t)
	id := uuid.New()

	_, err := svc.Ensure(id, "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.SetMFAEnabled(id, true))

	info, err := svc.GetByID(id)
	require.NoError(t, err)
	assert.True(t, info.MFAEnabled)

	require.NoError(t, svc.SetMFAEnabled(id, false))

	info, err = svc.GetByID(id)
	require.NoError(t, err)
	assert.False(t, info.MFAEnabled)
}
