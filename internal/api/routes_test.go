package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"rxportal/internal/auth"
	"rxportal/internal/dashboard"
	"rxportal/internal/database"
	"rxportal/internal/store"
)

type fakeRecords struct {
	records map[string]uint
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: map[string]uint{}}
}

func (f *fakeRecords) Save(_ context.Context, sessionID string, accountID uint) error {
	f.records[sessionID] = accountID
	return nil
}

func (f *fakeRecords) Lookup(_ context.Context, sessionID string) (uint, bool, error) {
	id, ok := f.records[sessionID]
	return id, ok, nil
}

func (f *fakeRecords) Revoke(_ context.Context, sessionID string) error {
	delete(f.records, sessionID)
	return nil
}

type fakeSelections struct {
	saved map[string]*store.Profile
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

type testEnv struct {
	router  *gin.Engine
	store   *store.GormStore
	tokens  *auth.SessionService
	records *fakeRecords

	accountID uint
	token     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hash, err := auth.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	account := database.Account{
		Email:              "owner@corner.example",
		PasswordHash:       hash,
		PharmacyName:       "Corner Pharmacy",
		SubscriptionStatus: database.SubscriptionActive,
		Profiles: []database.MemberProfile{
			{Role: database.RolePharmacy, Active: true},
		},
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	catalog := database.StorageFileCatalog{
		Path:        "/resources/compliance/hipaa-overview",
		DisplayName: "HIPAA Overview",
		ObjectKey:   "compliance/hipaa-overview.pdf",
		Category:    "compliance",
	}
	if err := db.Create(&catalog).Error; err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	gormStore := store.NewGormStore(db)
	tokens, err := auth.NewSessionService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("session service: %v", err)
	}
	records := newFakeRecords()
	logger := slog.Default()

	router := NewRouter(logger)
	RegisterRoutes(router, RouteDeps{
		Store:                 gormStore,
		Tokens:                tokens,
		Records:               records,
		Selections:            newFakeSelections(),
		Aggregator:            dashboard.NewAggregator(gormStore, logger),
		Logger:                logger,
		LoginRateLimitPerHour: 10,
		LoginLockThreshold:    5,
		LoginLockTTL:          15 * time.Minute,
	})

	token, sessionID, err := tokens.IssueToken(account.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if err := records.Save(context.Background(), sessionID, account.ID); err != nil {
		t.Fatalf("save record: %v", err)
	}

	return &testEnv{
		router:    router,
		store:     gormStore,
		tokens:    tokens,
		records:   records,
		accountID: account.ID,
		token:     token,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(payload)
	} else {
		reader = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	w := env.do(t, http.MethodGet, "/v1/auth/session", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestProtectedRoutesRejectRevokedSession(t *testing.T) {
	env := newTestEnv(t)
	for sessionID := range env.records.records {
		_ = env.records.Revoke(context.Background(), sessionID)
	}

	w := env.do(t, http.MethodGet, "/v1/auth/session", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session must be rejected, got %d", w.Code)
	}
}

func TestGetSessionHydratesAccount(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/auth/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["initialized"] != true {
		t.Fatal("initialized must be true after session check")
	}
	if body["state"] != "authenticated" {
		t.Fatalf("expected authenticated, got %v", body["state"])
	}
	account, ok := body["account"].(map[string]any)
	if !ok {
		t.Fatalf("account expected, got %v", body["account"])
	}
	if account["email"] != "owner@corner.example" {
		t.Fatalf("account email wrong: %v", account["email"])
	}
}

func TestProfileAndBookmarkFlow(t *testing.T) {
	env := newTestEnv(t)

	// 档案级操作在选档案之前被拒绝
	w := env.do(t, http.MethodPost, "/v1/bookmarks/toggle", gin.H{"path": "/resources/compliance/hipaa-overview"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("toggle without active profile must 400, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/v1/profiles", gin.H{"first_name": "Alice", "role": database.RolePharmacist})
	if w.Code != http.StatusCreated {
		t.Fatalf("create profile: %d %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)["profile"].(map[string]any)
	profileID := uint(created["ID"].(float64))

	w = env.do(t, http.MethodPut, "/v1/profiles/active", gin.H{"profile_id": profileID})
	if w.Code != http.StatusOK {
		t.Fatalf("set active: %d %s", w.Code, w.Body.String())
	}

	// 缓存装载完成，状态查询同步可答
	w = env.do(t, http.MethodGet, "/v1/bookmarks/status?path=/resources/compliance/hipaa-overview", nil)
	body := decodeBody(t, w)
	if body["ready"] != true || body["bookmarked"] != false {
		t.Fatalf("expected ready+unbookmarked, got %v", body)
	}

	w = env.do(t, http.MethodPost, "/v1/bookmarks/toggle", gin.H{"path": "/resources/compliance/hipaa-overview"})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle: %d %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["bookmarked"] != true {
		t.Fatal("expected bookmarked after toggle")
	}

	w = env.do(t, http.MethodGet, "/v1/bookmarks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list bookmarks: %d", w.Code)
	}
	bookmarks := decodeBody(t, w)["bookmarks"].([]any)
	if len(bookmarks) != 1 {
		t.Fatalf("expected 1 bookmark, got %d", len(bookmarks))
	}
}

func TestToggleUnknownResourceReturns404(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/profiles", gin.H{"first_name": "Alice", "role": database.RolePharmacist})
	profileID := uint(decodeBody(t, w)["profile"].(map[string]any)["ID"].(float64))
	env.do(t, http.MethodPut, "/v1/profiles/active", gin.H{"profile_id": profileID})

	w = env.do(t, http.MethodPost, "/v1/bookmarks/toggle", gin.H{"path": "/resources/nope"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"].(float64) != 4004 {
		t.Fatalf("expected resource-missing code, got %v", body["code"])
	}
}

func TestCreateProfileWithoutIdentityFields(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/profiles", gin.H{"email": "only@fields.example"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if decodeBody(t, w)["code"].(float64) != 4102 {
		t.Fatal("validation code expected")
	}
}

func TestDeleteSentinelProfileForbidden(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/profiles", nil)
	profiles := decodeBody(t, w)["profiles"].([]any)
	var sentinelID uint
	for _, raw := range profiles {
		p := raw.(map[string]any)
		if p["Role"] == database.RolePharmacy {
			sentinelID = uint(p["ID"].(float64))
		}
	}
	if sentinelID == 0 {
		t.Fatal("sentinel profile expected in listing")
	}

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/v1/profiles/%d", sentinelID), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDashboardAggregatesFeeds(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/dashboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if _, ok := body["resources"].([]any); !ok {
		t.Fatalf("resources feed expected, got %v", body["resources"])
	}
	if _, ok := body["announcements"].([]any); !ok {
		t.Fatalf("announcements feed expected, got %v", body["announcements"])
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/auth/logout", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/auth/session", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("token must be dead after logout, got %d", w.Code)
	}
}
