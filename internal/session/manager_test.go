package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"rxportal/internal/auth"
	"rxportal/internal/store"
)

// stubStore 只实现用到的方法，其余调用直接 panic。
type stubStore struct {
	store.Store

	credentials map[string]stubCredential
	accounts    map[uint]*store.Account
	accountErr  error
}

type stubCredential struct {
	id   uint
	hash string
}

func (s *stubStore) CredentialsByEmail(_ context.Context, email string) (uint, string, error) {
	cred, ok := s.credentials[email]
	if !ok {
		return 0, "", store.ErrNotFound
	}
	return cred.id, cred.hash, nil
}

func (s *stubStore) AccountByID(_ context.Context, id uint) (*store.Account, error) {
	if s.accountErr != nil {
		return nil, s.accountErr
	}
	account, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return account, nil
}

type fakeRecords struct {
	records   map[string]uint
	saveErr   error
	lookupErr error
	revokeErr error
	revoked   []string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: map[string]uint{}}
}

func (f *fakeRecords) Save(_ context.Context, sessionID string, accountID uint) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records[sessionID] = accountID
	return nil
}

func (f *fakeRecords) Lookup(_ context.Context, sessionID string) (uint, bool, error) {
	if f.lookupErr != nil {
		return 0, false, f.lookupErr
	}
	id, ok := f.records[sessionID]
	return id, ok, nil
}

func (f *fakeRecords) Revoke(_ context.Context, sessionID string) error {
	f.revoked = append(f.revoked, sessionID)
	if f.revokeErr != nil {
		return f.revokeErr
	}
	delete(f.records, sessionID)
	return nil
}

func newTestTokens(t *testing.T) *auth.SessionService {
	t.Helper()
	tokens, err := auth.NewSessionService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("session service: %v", err)
	}
	return tokens
}

func newLoginFixture(t *testing.T) (*Manager, *fakeRecords) {
	t.Helper()
	hash, err := auth.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	st := &stubStore{
		credentials: map[string]stubCredential{
			"owner@corner.example": {id: 42, hash: hash},
		},
		accounts: map[uint]*store.Account{
			42: {ID: 42, Email: "owner@corner.example"},
		},
	}
	records := newFakeRecords()
	return NewManager(st, newTestTokens(t), records, nil), records
}

func TestCheckSessionWithoutSessionIsAnonymous(t *testing.T) {
	m, _ := newLoginFixture(t)

	if m.Initialized() {
		t.Fatal("fresh manager must not be initialized")
	}
	m.CheckSession(context.Background())

	if !m.Initialized() {
		t.Fatal("initialized must be true after CheckSession")
	}
	if m.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", m.State())
	}
	if m.Account() != nil {
		t.Fatal("no account expected")
	}
}

func TestCheckSessionSurvivesLookupFailure(t *testing.T) {
	m, records := newLoginFixture(t)
	m.BindSession("some-session")
	records.lookupErr = errors.New("redis down")

	m.CheckSession(context.Background())

	if !m.Initialized() {
		t.Fatal("initialized must be true even when lookup fails")
	}
	if m.State() != StateAnonymous {
		t.Fatalf("expected anonymous on lookup failure, got %s", m.State())
	}
}

func TestCheckSessionSurvivesAccountFetchFailure(t *testing.T) {
	m, records := newLoginFixture(t)
	records.records["sess-1"] = 42
	m.BindSession("sess-1")

	st := &stubStore{accountErr: errors.New("db down")}
	m.store = st

	m.CheckSession(context.Background())

	if !m.Initialized() {
		t.Fatal("initialized must be true even when account fetch fails")
	}
	if m.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", m.State())
	}
}

func TestLoginSuccess(t *testing.T) {
	m, records := newLoginFixture(t)

	token, err := m.Login(context.Background(), "owner@corner.example", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" {
		t.Fatal("token expected")
	}
	if m.State() != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", m.State())
	}
	if m.Account() == nil || m.Account().ID != 42 {
		t.Fatalf("account not loaded: %+v", m.Account())
	}
	if _, ok := records.records[m.SessionID()]; !ok {
		t.Fatal("session record not saved")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m, _ := newLoginFixture(t)
	ctx := context.Background()

	if _, err := m.Login(ctx, "owner@corner.example", "wrong"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if _, err := m.Login(ctx, "nobody@corner.example", "whatever"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for unknown email, got %v", err)
	}
	if m.State() == StateAuthenticated {
		t.Fatal("failed login must not authenticate")
	}
}

func TestLogoutClearsLocalStateEvenWhenRevokeFails(t *testing.T) {
	m, records := newLoginFixture(t)
	ctx := context.Background()

	if _, err := m.Login(ctx, "owner@corner.example", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	sessionID := m.SessionID()
	records.revokeErr = errors.New("network down")

	m.Logout(ctx)

	if m.State() != StateAnonymous {
		t.Fatalf("expected anonymous after logout, got %s", m.State())
	}
	if m.Account() != nil || m.SessionID() != "" {
		t.Fatal("local state must be cleared")
	}
	if len(records.revoked) == 0 || records.revoked[0] != sessionID {
		t.Fatal("revoke should have been attempted")
	}
}

func TestUpdateAccountWithoutSessionReturnsNil(t *testing.T) {
	m, _ := newLoginFixture(t)

	name := "New Name"
	account, err := m.UpdateAccount(context.Background(), store.AccountPatch{PharmacyName: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if account != nil {
		t.Fatalf("expected nil account, got %+v", account)
	}
}
