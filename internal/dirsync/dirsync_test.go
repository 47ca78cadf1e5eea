package dirsync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/adbridge/internal/account"
	"github.com/isometry/adbridge/internal/directory"
	"github.com/isometry/adbridge/internal/identity"
	"github.com/isometry/adbridge/internal/ldap"
	"github.com/isometry/adbridge/internal/reconcile"
	"github.com/isometry/adbridge/internal/storage"
)

const (
	testDomainSID  = "S-1-5-21-1004336348-1177238915-682003330"
	otherDomainSID = "S-1-5-21-1-2-3"
	guidAlice      = "0c2f1f6e-5a1b-4c57-9e0a-2d8a1f7e3b10"
	guidBob        = "9b1d7e02-4c3a-4f5e-8a6b-1c2d3e4f5a6b"
	guidCarol      = "5e0f2b1a-7d3c-4b9e-a1f0-6c8d2e4b7a90"
)

var syncGroups = []string{"Sync Users"}

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ServiceBound() bool {
	return m.Called().Bool(0)
}

func (m *MockDirectory) CheckPorts(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDirectory) FindGroupMembers(ctx context.Context, groups []string) ([]*directory.Attributes, error) {
	args := m.Called(ctx, groups)
	members, _ := args.Get(0).([]*directory.Attributes)
	return members, args.Error(1)
}

func (m *MockDirectory) FindByGUID(ctx context.Context, guid string) (*directory.Attributes, error) {
	args := m.Called(ctx, guid)
	attrs, _ := args.Get(0).(*directory.Attributes)
	return attrs, args.Error(1)
}

func (m *MockDirectory) FindByPrincipal(ctx context.Context, creds identity.Credentials) (*directory.Attributes, error) {
	args := m.Called(ctx, creds)
	attrs, _ := args.Get(0).(*directory.Attributes)
	return attrs, args.Error(1)
}

func (m *MockDirectory) DomainSID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDirectory) ModifyAttributes(ctx context.Context, guid string, attrs map[string][]string) error {
	return m.Called(ctx, guid, attrs).Error(0)
}

func newTestStore(t *testing.T) *storage.AccountStore {
	t.Helper()

	db, err := storage.Open(context.Background(), storage.Options{Driver: storage.DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	return storage.NewAccountStore(db)
}

func newOnlineDirectory(t *testing.T) *MockDirectory {
	t.Helper()
	dir := &MockDirectory{}
	dir.On("ServiceBound").Return(true).Maybe()
	dir.On("CheckPorts", mock.Anything).Return(nil).Maybe()
	t.Cleanup(func() { dir.AssertExpectations(t) })
	return dir
}

func newToLocal(dir SourceDirectory, store account.Store, config ToLocalConfig) *ToLocal {
	// ToLocal forces auto-create and auto-update on.
	policy := reconcile.Policy{DuplicateEmail: reconcile.EmailPrevent}
	reconciler := reconcile.New(store, policy, reconcile.NewRoleMapper(nil, "user"), nil)
	if config.SecurityGroups == nil {
		config.SecurityGroups = syncGroups
	}
	return NewToLocal(dir, store, reconciler, config, nil)
}

func directoryUser(sam, guid, uac string) *directory.Attributes {
	return &directory.Attributes{
		DN:                "CN=" + sam + ",OU=Users,DC=example,DC=com",
		ObjectGUID:        guid,
		ObjectSID:         testDomainSID + "-1104",
		DomainSID:         testDomainSID,
		SAMAccountName:    sam,
		UserPrincipalName: sam + "@example.com",
		AccountControl:    directory.ParseAccountControl(uac),
		Raw: map[string][]string{
			directory.AttrSAMAccountName: {sam},
			directory.AttrMail:           {sam + "@example.com"},
			directory.AttrGivenName:      {sam},
		},
		Filtered: map[string][]string{"department": {"Engineering"}},
	}
}

func linkedAccount(t *testing.T, store *storage.AccountStore, login, guid, domainSID string, meta map[string]string) *account.Account {
	t.Helper()
	m := map[string]string{
		account.MetaObjectGUID:     guid,
		account.MetaSAMAccountName: login,
		account.MetaDomainSID:      domainSID,
	}
	for k, v := range meta {
		m[k] = v
	}
	acct := &account.Account{Login: login, Roles: []string{"user"}, Meta: m}
	require.NoError(t, store.Create(context.Background(), acct, account.WriteOptions{}))
	return acct
}

func TestToLocal_SecondRunCreatesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dir := newOnlineDirectory(t)
	dir.On("FindGroupMembers", mock.Anything, syncGroups).Return([]*directory.Attributes{
		directoryUser("alice", guidAlice, "512"),
		directoryUser("bob", guidBob, "512"),
		directoryUser("alice", guidAlice, "512"),
	}, nil).Twice()

	s := newToLocal(dir, store, ToLocalConfig{})

	first, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created, "duplicate members are processed once")
	assert.Zero(t, first.Failed)

	second, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 2, second.Skipped)

	alice, err := store.FindByMeta(ctx, account.MetaObjectGUID, guidAlice)
	require.NoError(t, err)
	assert.Equal(t, "alice", alice.Login)
	assert.Equal(t, "alice@example.com", alice.Email)
	assert.Equal(t, testDomainSID, alice.MetaValue(account.MetaDomainSID))
	assert.Equal(t, "Engineering", alice.MetaValue(account.AttributeKey("department")))
	assert.NotEmpty(t, alice.PasswordHash)
}

func TestToLocal_AccountControl(t *testing.T) {
	tests := []struct {
		name           string
		uac            string
		config         ToLocalConfig
		startDisabled  bool
		expectDisabled bool
		expectReason   string
		expectOutcome  Outcome
	}{
		{
			name:          "normal account stays enabled",
			uac:           "512",
			expectOutcome: OutcomeSkipped,
		},
		{
			name:          "directory enabled re-enables immediately",
			uac:           "512",
			startDisabled: true,
			expectOutcome: OutcomeUpdated,
		},
		{
			name:          "directory disabled is ignored by default",
			uac:           "514",
			expectOutcome: OutcomeSkipped,
		},
		{
			name:           "directory disabled mirrored when configured",
			uac:            "514",
			config:         ToLocalConfig{SynchronizeDisabled: true},
			expectDisabled: true,
			expectReason:   directory.StateDisabled.Reason(),
			expectOutcome:  OutcomeUpdated,
		},
		{
			name:           "smartcard required",
			uac:            "262656",
			expectDisabled: true,
			expectReason:   directory.StateSmartcardRequired.Reason(),
			expectOutcome:  OutcomeUpdated,
		},
		{
			name:          "smartcard required with smartcard login",
			uac:           "262656",
			config:        ToLocalConfig{SmartcardLoginEnabled: true},
			expectOutcome: OutcomeSkipped,
		},
		{
			name:           "workstation trust",
			uac:            "4096",
			expectDisabled: true,
			expectReason:   directory.StateWorkstationTrust.Reason(),
			expectOutcome:  OutcomeUpdated,
		},
		{
			name:           "interdomain trust",
			uac:            "2048",
			expectDisabled: true,
			expectReason:   directory.StateInterdomainTrust.Reason(),
			expectOutcome:  OutcomeUpdated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			acct := linkedAccount(t, store, "alice", guidAlice, testDomainSID, nil)

			// Seed the profile so the reconciler has nothing to refresh.
			dir := newOnlineDirectory(t)
			dir.On("FindGroupMembers", mock.Anything, syncGroups).
				Return([]*directory.Attributes{directoryUser("alice", guidAlice, "512")}, nil).Once()
			_, err := newToLocal(dir, store, ToLocalConfig{}).Run(ctx)
			require.NoError(t, err)
			if tt.startDisabled {
				require.NoError(t, store.Disable(ctx, acct.ID, "manual"))
			}

			dir = newOnlineDirectory(t)
			dir.On("FindGroupMembers", mock.Anything, syncGroups).
				Return([]*directory.Attributes{directoryUser("alice", guidAlice, tt.uac)}, nil).Once()

			summary, err := newToLocal(dir, store, tt.config).Run(ctx)
			require.NoError(t, err)

			var expected Summary
			expected.record(tt.expectOutcome)
			assert.Equal(t, expected.Created, summary.Created)
			assert.Equal(t, expected.Updated, summary.Updated)
			assert.Equal(t, expected.Skipped, summary.Skipped)

			got, err := store.FindByID(ctx, acct.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.expectDisabled, got.Disabled)
			assert.Equal(t, tt.expectReason, got.DisabledReason)
		})
	}
}

func TestToLocal_DisabledDirectoryAccountWithoutLocalAccount(t *testing.T) {
	for _, importDisabled := range []bool{false, true} {
		store := newTestStore(t)
		dir := newOnlineDirectory(t)
		dir.On("FindGroupMembers", mock.Anything, syncGroups).
			Return([]*directory.Attributes{directoryUser("carol", guidCarol, "514")}, nil).Once()

		summary, err := newToLocal(dir, store, ToLocalConfig{ImportDisabled: importDisabled}).Run(context.Background())
		require.NoError(t, err)

		_, lookupErr := store.FindByMeta(context.Background(), account.MetaObjectGUID, guidCarol)
		if importDisabled {
			assert.Equal(t, 1, summary.Created)
			assert.NoError(t, lookupErr)
		} else {
			assert.Equal(t, 1, summary.Skipped)
			assert.ErrorIs(t, lookupErr, account.ErrNotFound)
		}
	}
}

func TestToLocal_RemovedFromDirectory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	acct := linkedAccount(t, store, "dave", guidBob, testDomainSID, map[string]string{account.MetaAccountSuffix: "example.com"})

	dir := newOnlineDirectory(t)
	dir.On("FindGroupMembers", mock.Anything, syncGroups).Return([]*directory.Attributes{}, nil).Twice()
	dir.On("FindByGUID", mock.Anything, guidBob).Return(nil, ldap.ErrEntryNotFound).Twice()
	dir.On("FindByPrincipal", mock.Anything, mock.MatchedBy(func(c identity.Credentials) bool {
		return c.SAMAccountName == "dave" && c.UPNSuffix == "example.com"
	})).Return(nil, ldap.ErrEntryNotFound).Twice()

	s := newToLocal(dir, store, ToLocalConfig{})
	summary, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	got, err := store.FindByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Disabled)
	assert.Equal(t, ReasonRemoved, got.DisabledReason)
	assert.Empty(t, got.MetaValue(account.MetaDomainSID))
	assert.Equal(t, guidBob, got.MetaValue(account.MetaObjectGUID))

	summary, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped, "already disabled account is left alone")
}

func TestToLocal_PrincipalFallbackBoundElsewhere(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	acct := linkedAccount(t, store, "dave", guidBob, testDomainSID, nil)

	dir := newOnlineDirectory(t)
	dir.On("FindGroupMembers", mock.Anything, syncGroups).Return([]*directory.Attributes{}, nil).Once()
	dir.On("FindByGUID", mock.Anything, guidBob).Return(nil, ldap.ErrEntryNotFound).Once()
	dir.On("FindByPrincipal", mock.Anything, mock.Anything).Return(directoryUser("dave", guidCarol, "512"), nil).Once()

	_, err := newToLocal(dir, store, ToLocalConfig{}).Run(ctx)
	require.NoError(t, err)

	got, err := store.FindByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Disabled)
}

func TestToLocal_LinkedAccountRefreshedByGUID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	acct := linkedAccount(t, store, "bob", guidBob, testDomainSID, nil)

	dir := newOnlineDirectory(t)
	dir.On("FindByGUID", mock.Anything, guidBob).Return(directoryUser("robert", guidBob, "512"), nil).Once()

	summary, err := newToLocal(dir, store, ToLocalConfig{SecurityGroups: []string{}}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	got, err := store.FindByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "robert", got.MetaValue(account.MetaSAMAccountName))
	assert.Equal(t, "robert@example.com", got.Email)
}

func TestToLocal_PerUserFailuresDoNotAbort(t *testing.T) {
	store := newTestStore(t)
	broken := directoryUser("broken", guidCarol, "512")
	broken.Raw = nil

	dir := newOnlineDirectory(t)
	dir.On("FindGroupMembers", mock.Anything, syncGroups).Return([]*directory.Attributes{
		broken,
		directoryUser("alice", guidAlice, "512"),
	}, nil).Once()

	summary, err := newToLocal(dir, store, ToLocalConfig{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Created)
}

func TestToLocal_AbortsWholeRun(t *testing.T) {
	t.Run("no service credentials", func(t *testing.T) {
		dir := &MockDirectory{}
		dir.On("ServiceBound").Return(false).Once()

		_, err := newToLocal(dir, newTestStore(t), ToLocalConfig{}).Run(context.Background())
		assert.ErrorIs(t, err, ldap.ErrNoServiceCredentials)
		dir.AssertExpectations(t)
	})

	t.Run("unreachable", func(t *testing.T) {
		dir := &MockDirectory{}
		dir.On("ServiceBound").Return(true)
		dir.On("CheckPorts", mock.Anything).Return(ldap.ErrUnreachable).Once()

		_, err := newToLocal(dir, newTestStore(t), ToLocalConfig{}).Run(context.Background())
		assert.ErrorIs(t, err, ldap.ErrUnreachable)
		dir.AssertExpectations(t)
	})

	t.Run("group lookup fails", func(t *testing.T) {
		dir := newOnlineDirectory(t)
		dir.On("FindGroupMembers", mock.Anything, syncGroups).Return(nil, errors.New("size limit exceeded")).Once()

		_, err := newToLocal(dir, newTestStore(t), ToLocalConfig{}).Run(context.Background())
		assert.ErrorContains(t, err, "size limit exceeded")
	})
}

func TestToLocal_ExecutionBudget(t *testing.T) {
	dir := newOnlineDirectory(t)
	dir.On("FindGroupMembers", mock.Anything, syncGroups).Return([]*directory.Attributes{
		directoryUser("alice", guidAlice, "512"),
		directoryUser("bob", guidBob, "512"),
	}, nil).Once()

	// The second user would have to wait far beyond the deadline.
	config := ToLocalConfig{RateLimit: 0.001, MaxExecutionTime: time.Minute}
	summary, err := newToLocal(dir, newTestStore(t), config).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Total())
	assert.Positive(t, summary.Elapsed)
}

func TestToDirectory_Run(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	alice := linkedAccount(t, store, "alice", guidAlice, testDomainSID, map[string]string{
		account.AttributeKey("telephoneNumber"): "+1 555 0100\n+1 555 0101",
	})
	_ = linkedAccount(t, store, "bob", guidBob, otherDomainSID, nil)
	require.NotZero(t, alice.ID)

	dir := newOnlineDirectory(t)
	dir.On("DomainSID", mock.Anything).Return(testDomainSID, nil).Once()
	dir.On("ModifyAttributes", mock.Anything, guidAlice, mock.MatchedBy(func(attrs map[string][]string) bool {
		cleared, ok := attrs["department"]
		return ok && cleared != nil && len(cleared) == 0 &&
			assert.ObjectsAreEqual([]string{"+1 555 0100", "+1 555 0101"}, attrs["telephoneNumber"])
	})).Return(nil).Once()

	s := NewToDirectory(dir, store, ToDirectoryConfig{
		Attributes: []string{"telephoneNumber", "department", " "},
		Captured:   []string{"telephonenumber", "department"},
	}, nil)
	summary, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Skipped, "accounts from another domain are not written")
	assert.Zero(t, summary.Failed)
}

func TestToDirectory_SkipsAttributesNotCaptured(t *testing.T) {
	store := newTestStore(t)
	_ = linkedAccount(t, store, "alice", guidAlice, testDomainSID, map[string]string{
		account.AttributeKey("department"): "Engineering",
	})

	dir := newOnlineDirectory(t)
	dir.On("DomainSID", mock.Anything).Return(testDomainSID, nil).Once()
	dir.On("ModifyAttributes", mock.Anything, guidAlice, map[string][]string{
		"department": {"Engineering"},
	}).Return(nil).Once()

	s := NewToDirectory(dir, store, ToDirectoryConfig{
		Attributes: []string{"department", "telephoneNumber"},
		Captured:   []string{"Department"},
	}, nil)
	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	dir.AssertExpectations(t)
}

func TestToDirectory_NothingCapturedWritesNothing(t *testing.T) {
	store := newTestStore(t)
	_ = linkedAccount(t, store, "alice", guidAlice, testDomainSID, nil)

	dir := &MockDirectory{}
	dir.On("ServiceBound").Return(true).Once()

	summary, err := NewToDirectory(dir, store, ToDirectoryConfig{Attributes: []string{"telephoneNumber"}}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total())
	dir.AssertNotCalled(t, "ModifyAttributes", mock.Anything, mock.Anything, mock.Anything)
}

func TestToDirectory_WriteFailureIsCounted(t *testing.T) {
	store := newTestStore(t)
	_ = linkedAccount(t, store, "alice", guidAlice, testDomainSID, nil)
	_ = linkedAccount(t, store, "carol", guidCarol, testDomainSID, nil)

	dir := newOnlineDirectory(t)
	dir.On("DomainSID", mock.Anything).Return(testDomainSID, nil).Once()
	dir.On("ModifyAttributes", mock.Anything, guidAlice, mock.Anything).Return(errors.New("insufficient access")).Once()
	dir.On("ModifyAttributes", mock.Anything, guidCarol, mock.Anything).Return(nil).Once()

	summary, err := NewToDirectory(dir, store, ToDirectoryConfig{Attributes: []string{"department"}, Captured: []string{"department"}}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Updated)
}

func TestToDirectory_Preconditions(t *testing.T) {
	dir := &MockDirectory{}
	dir.On("ServiceBound").Return(false).Once()
	_, err := NewToDirectory(dir, newTestStore(t), ToDirectoryConfig{Attributes: []string{"department"}, Captured: []string{"department"}}, nil).Run(context.Background())
	assert.ErrorIs(t, err, ldap.ErrNoServiceCredentials)
	dir.AssertExpectations(t)

	dir = newOnlineDirectory(t)
	dir.On("DomainSID", mock.Anything).Return("", ldap.ErrEntryNotFound).Once()
	_, err = NewToDirectory(dir, newTestStore(t), ToDirectoryConfig{Attributes: []string{"department"}, Captured: []string{"department"}}, nil).Run(context.Background())
	assert.ErrorIs(t, err, ldap.ErrEntryNotFound)
}

func TestSummary_MarshalJSON(t *testing.T) {
	s := Summary{Created: 1, Updated: 2, Skipped: 3, Failed: 4, Elapsed: 1500 * time.Millisecond}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"created":1,"updated":2,"skipped":3,"failed":4,"elapsed":"1.5s"}`, string(data))
	assert.Equal(t, 10, s.Total())
}
