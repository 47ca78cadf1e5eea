package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/isometry/adbridge/internal/account"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func createAccount(t *testing.T, store *AccountStore, login, email string, meta map[string]string) *account.Account {
	t.Helper()

	acct := &account.Account{
		Login: login,
		Email: email,
		Roles: []string{"user"},
		Meta:  meta,
	}
	require.NoError(t, store.Create(context.Background(), acct, account.WriteOptions{}))
	require.NotZero(t, acct.ID)
	return acct
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestAccountStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestDB(t))

	created := createAccount(t, store, "JDoe", "jdoe@example.com", map[string]string{
		account.MetaObjectGUID:     "0c2f1f6e-5a1b-4c57-9e0a-2d8a1f7e3b10",
		account.MetaSAMAccountName: "jdoe",
	})

	byID, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", byID.Login)
	assert.Equal(t, []string{"user"}, byID.Roles)
	assert.Equal(t, "jdoe", byID.MetaValue(account.MetaSAMAccountName))

	byLogin, err := store.FindByLogin(ctx, " JDOE ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byLogin.ID)

	byEmail, err := store.FindByEmail(ctx, "JDOE@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byGUID, err := store.FindByMeta(ctx, account.MetaObjectGUID, "0C2F1F6E-5A1B-4C57-9E0A-2D8A1F7E3B10")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byGUID.ID)
}

func TestAccountStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestDB(t))

	_, err := store.FindByID(ctx, 42)
	assert.ErrorIs(t, err, account.ErrNotFound)

	_, err = store.FindByLogin(ctx, "")
	assert.ErrorIs(t, err, account.ErrNotFound)

	_, err = store.FindByMeta(ctx, account.MetaObjectGUID, "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)

	assert.ErrorIs(t, store.Disable(ctx, 42, "gone"), account.ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, &account.Account{ID: 42, Login: "ghost"}, account.WriteOptions{}), account.ErrNotFound)
}

func TestAccountStore_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestDB(t))

	createAccount(t, store, "jdoe", "shared@example.com", nil)

	dup := &account.Account{Login: "jsmith", Email: "Shared@example.com"}
	assert.ErrorIs(t, store.Create(ctx, dup, account.WriteOptions{}), account.ErrDuplicateEmail)

	require.NoError(t, store.Create(ctx, dup, account.WriteOptions{AllowDuplicateEmail: true}))
	assert.NotZero(t, dup.ID)
}

func TestAccountStore_DuplicateLogin(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestDB(t))

	createAccount(t, store, "jdoe", "", nil)
	err := store.Create(ctx, &account.Account{Login: "JDOE"}, account.WriteOptions{})
	assert.ErrorIs(t, err, account.ErrDuplicateLogin)
}

func TestAccountStore_UpdateReplacesMeta(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestDB(t))

	acct := createAccount(t, store, "jdoe", "jdoe@example.com", map[string]string{
		account.MetaSAMAccountName: "jdoe",
		account.MetaDomainSID:      "S-1-5-21-1-2-3",
	})

	acct.Login = "john.doe"
	acct.FirstName = "John"
	acct.Roles = []string{"admin", "user"}
	acct.SetMetaValue(account.MetaSAMAccountName, "john.doe")
	acct.SetMetaValue(account.MetaDomainSID, "")
	require.NoError(t, store.Update(ctx, acct, account.WriteOptions{}))

	got, err := store.FindByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "john.doe", got.Login)
	assert.Equal(t, "John", got.FirstName)
	assert.Equal(t, []string{"admin", "user"}, got.Roles)
	assert.Equal(t, "john.doe", got.MetaValue(account.MetaSAMAccountName))
	assert.Empty(t, got.MetaValue(account.MetaDomainSID))

	// Updating the same account with its own email is not a duplicate.
	require.NoError(t, store.Update(ctx, got, account.WriteOptions{}))
}

func TestAccountStore_MetaOperations(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestDB(t))
	acct := createAccount(t, store, "jdoe", "", nil)

	require.NoError(t, store.SetMeta(ctx, acct.ID, account.MetaDomainSID, "S-1-5-21-1"))
	require.NoError(t, store.SetMeta(ctx, acct.ID, account.MetaDomainSID, "S-1-5-21-2"))

	got, err := store.FindByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-21-2", got.MetaValue(account.MetaDomainSID))

	require.NoError(t, store.DeleteMeta(ctx, acct.ID, account.MetaDomainSID))
	got, err = store.FindByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Meta, account.MetaDomainSID)
}

func TestAccountStore_DisableEnable(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestDB(t))
	acct := createAccount(t, store, "jdoe", "", nil)

	require.NoError(t, store.Disable(ctx, acct.ID, "no longer present in the directory"))
	got, err := store.FindByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Disabled)
	assert.Equal(t, "no longer present in the directory", got.DisabledReason)

	require.NoError(t, store.Enable(ctx, acct.ID))
	got, err = store.FindByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, got.Disabled)
	assert.Empty(t, got.DisabledReason)
}

func TestAccountStore_ListLinked(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestDB(t))

	linked := createAccount(t, store, "jdoe", "", map[string]string{
		account.MetaObjectGUID: "0c2f1f6e-5a1b-4c57-9e0a-2d8a1f7e3b10",
		account.MetaDomainSID:  "S-1-5-21-1",
	})
	createAccount(t, store, "local", "", map[string]string{"theme": "dark"})

	accounts, err := store.ListLinked(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, linked.ID, accounts[0].ID)
	assert.Equal(t, "S-1-5-21-1", accounts[0].MetaValue(account.MetaDomainSID))
}

func TestLoginAttemptRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewLoginAttemptRepository(newTestDB(t))
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	key := "jdoe@example.com"

	rec, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, rec.Attempts)

	for i := 1; i <= 2; i++ {
		rec, err = repo.RecordFailure(ctx, key, now, 3, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, rec.Attempts)
		assert.False(t, rec.Blocked(now))
	}

	rec, err = repo.RecordFailure(ctx, key, now, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, rec.Blocked(now))

	stored, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Attempts)
	assert.True(t, now.Add(time.Minute).Equal(stored.BlockedUntil))

	require.NoError(t, repo.Clear(ctx, key))
	stored, err = repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, stored.Attempts)
}
