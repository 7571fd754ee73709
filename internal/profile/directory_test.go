package profile

import (
	"context"
	"errors"
	"testing"

	"rxportal/internal/database"
	"rxportal/internal/store"
)

// stubStore 只实现用到的方法，其余调用直接 panic。
type stubStore struct {
	store.Store

	profiles    map[uint]*store.Profile
	nextID      uint
	insertCalls int
}

func newStubStore() *stubStore {
	return &stubStore{profiles: map[uint]*store.Profile{}, nextID: 1}
}

func (s *stubStore) ProfilesByAccount(_ context.Context, accountID uint) ([]store.Profile, error) {
	var out []store.Profile
	for id := uint(1); id < s.nextID; id++ {
		if p, ok := s.profiles[id]; ok && p.AccountID == accountID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubStore) ProfileByID(_ context.Context, id uint) (*store.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *stubStore) InsertProfile(_ context.Context, p store.NewProfile) (*store.Profile, error) {
	s.insertCalls++
	created := &store.Profile{
		ID:        s.nextID,
		AccountID: p.AccountID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      p.Role,
		Email:     p.Email,
		Phone:     p.Phone,
		Active:    true,
	}
	s.profiles[s.nextID] = created
	s.nextID++
	copied := *created
	return &copied, nil
}

func (s *stubStore) UpdateProfile(_ context.Context, id uint, patch store.ProfilePatch) (*store.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.FirstName != nil {
		p.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		p.LastName = *patch.LastName
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	copied := *p
	return &copied, nil
}

func (s *stubStore) DeleteProfile(_ context.Context, id uint) error {
	delete(s.profiles, id)
	return nil
}

type fakeSelections struct {
	saved   map[string]*store.Profile
	loadErr error
}

func newFakeSelections() *fakeSelections {
	return &fakeSelections{saved: map[string]*store.Profile{}}
}

func (f *fakeSelections) Save(_ context.Context, sessionID string, p *store.Profile) error {
	copied := *p
	f.saved[sessionID] = &copied
	return nil
}

func (f *fakeSelections) Load(_ context.Context, sessionID string) (*store.Profile, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	p, ok := f.saved[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (f *fakeSelections) Clear(_ context.Context, sessionID string) error {
	delete(f.saved, sessionID)
	return nil
}

func newTestDirectory(t *testing.T) (*Directory, *stubStore, *fakeSelections) {
	t.Helper()
	st := newStubStore()
	selections := newFakeSelections()
	d := NewDirectory(st, selections, nil)
	d.BindSession("sess-1")
	return d, st, selections
}

func TestAddProfileValidatesBeforeRemoteCall(t *testing.T) {
	d, st, _ := newTestDirectory(t)

	_, err := d.AddProfile(context.Background(), store.NewProfile{AccountID: 1, Email: "only@fields.example"})
	if !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
	if st.insertCalls != 0 {
		t.Fatalf("validation failure must not reach the store, got %d calls", st.insertCalls)
	}
}

func TestAddProfileAppendsToCollection(t *testing.T) {
	d, _, _ := newTestDirectory(t)
	ctx := context.Background()

	created, err := d.AddProfile(ctx, store.NewProfile{AccountID: 1, FirstName: "Alice", Role: database.RolePharmacist})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	profiles := d.Profiles()
	if len(profiles) != 1 || profiles[0].ID != created.ID {
		t.Fatalf("profile not appended: %+v", profiles)
	}
}

func TestDeleteDefaultProfileIsProtected(t *testing.T) {
	d, st, _ := newTestDirectory(t)
	ctx := context.Background()

	sentinel, err := d.AddProfile(ctx, store.NewProfile{AccountID: 1, Role: database.RolePharmacy})
	if err != nil {
		t.Fatalf("add sentinel: %v", err)
	}

	if err := d.DeleteProfile(ctx, sentinel.ID); !errors.Is(err, ErrDefaultProfileProtected) {
		t.Fatalf("expected ErrDefaultProfileProtected, got %v", err)
	}
	if _, ok := st.profiles[sentinel.ID]; !ok {
		t.Fatal("sentinel must still exist remotely")
	}
}

func TestDeleteCurrentProfileClearsSelection(t *testing.T) {
	d, _, selections := newTestDirectory(t)
	ctx := context.Background()

	alice, _ := d.AddProfile(ctx, store.NewProfile{AccountID: 1, FirstName: "Alice", Role: database.RolePharmacist})
	d.SetCurrentProfile(ctx, alice)
	if selections.saved["sess-1"] == nil {
		t.Fatal("selection should be persisted")
	}

	if err := d.DeleteProfile(ctx, alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if d.CurrentProfile() != nil {
		t.Fatal("current profile must be cleared")
	}
	if selections.saved["sess-1"] != nil {
		t.Fatal("persisted selection must be cleared")
	}
}

func TestRestoreSelectionResolvesAgainstLoadedSet(t *testing.T) {
	d, _, selections := newTestDirectory(t)
	ctx := context.Background()

	alice, _ := d.AddProfile(ctx, store.NewProfile{AccountID: 1, FirstName: "Alice", Role: database.RolePharmacist})
	selections.saved["sess-1"] = alice

	restored := d.RestoreSelection(ctx)
	if restored == nil || restored.ID != alice.ID {
		t.Fatalf("expected alice restored, got %+v", restored)
	}
	if d.CurrentProfileID() != alice.ID {
		t.Fatal("current profile not set")
	}
}

func TestRestoreSelectionOfDeletedProfileYieldsNil(t *testing.T) {
	d, _, selections := newTestDirectory(t)
	ctx := context.Background()

	// 持久化的选择指向一个已不在集合中的档案
	selections.saved["sess-1"] = &store.Profile{ID: 999, AccountID: 1, FirstName: "Ghost"}

	if restored := d.RestoreSelection(ctx); restored != nil {
		t.Fatalf("expected nil for dangling selection, got %+v", restored)
	}
	if d.CurrentProfile() != nil {
		t.Fatal("current profile must stay nil")
	}
}

func TestRestoreSelectionSurvivesLoadFailure(t *testing.T) {
	d, _, selections := newTestDirectory(t)
	selections.loadErr = errors.New("redis down")

	if restored := d.RestoreSelection(context.Background()); restored != nil {
		t.Fatalf("expected nil on load failure, got %+v", restored)
	}
}

func TestUpdateCurrentProfileRefreshesSelection(t *testing.T) {
	d, _, selections := newTestDirectory(t)
	ctx := context.Background()

	alice, _ := d.AddProfile(ctx, store.NewProfile{AccountID: 1, FirstName: "Alice", Role: database.RolePharmacist})
	d.SetCurrentProfile(ctx, alice)

	last := "Nguyen"
	updated, err := d.UpdateProfile(ctx, alice.ID, store.ProfilePatch{LastName: &last})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if d.CurrentProfile().LastName != "Nguyen" {
		t.Fatal("current profile not refreshed")
	}
	if selections.saved["sess-1"].LastName != updated.LastName {
		t.Fatal("persisted selection not refreshed")
	}
}

func TestEnsureDefaultProfileInsertsOnce(t *testing.T) {
	d, st, _ := newTestDirectory(t)
	ctx := context.Background()

	if err := d.EnsureDefaultProfile(ctx, 1); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if st.insertCalls != 1 {
		t.Fatalf("expected one insert, got %d", st.insertCalls)
	}

	if err := d.EnsureDefaultProfile(ctx, 1); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if st.insertCalls != 1 {
		t.Fatalf("sentinel already present, expected no extra insert, got %d", st.insertCalls)
	}
}

func TestLoadProfilesReplacesCollection(t *testing.T) {
	d, st, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := st.InsertProfile(ctx, store.NewProfile{AccountID: 1, FirstName: "Alice", Role: database.RolePharmacist}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.InsertProfile(ctx, store.NewProfile{AccountID: 2, FirstName: "Other", Role: database.RoleTechnician}); err != nil {
		t.Fatalf("seed other: %v", err)
	}

	if err := d.LoadProfiles(ctx, 1); err != nil {
		t.Fatalf("load: %v", err)
	}
	profiles := d.Profiles()
	if len(profiles) != 1 || profiles[0].FirstName != "Alice" {
		t.Fatalf("expected only account 1 profiles, got %+v", profiles)
	}
}
