package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"rxportal/internal/store"
)

// stubStore 只实现用到的方法，其余调用直接 panic。
type stubStore struct {
	store.Store

	announcements []store.Announcement
	resources     []store.Resource
	recent        []store.ActivityEntry
	bookmarks     []store.BookmarkEntry
	training      []store.TrainingProgress

	announcementsErr error
	recentErr        error

	profileFeedCalls atomic.Int32
}

func (s *stubStore) Announcements(_ context.Context, _ uint, _ int) ([]store.Announcement, error) {
	if s.announcementsErr != nil {
		return nil, s.announcementsErr
	}
	return s.announcements, nil
}

func (s *stubStore) Resources(_ context.Context) ([]store.Resource, error) {
	return s.resources, nil
}

func (s *stubStore) RecentActivity(_ context.Context, _ uint, _ int) ([]store.ActivityEntry, error) {
	s.profileFeedCalls.Add(1)
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	return s.recent, nil
}

func (s *stubStore) BookmarksWithResources(_ context.Context, _ uint) ([]store.BookmarkEntry, error) {
	s.profileFeedCalls.Add(1)
	return s.bookmarks, nil
}

func (s *stubStore) TrainingProgressByProfile(_ context.Context, _ uint) ([]store.TrainingProgress, error) {
	s.profileFeedCalls.Add(1)
	return s.training, nil
}

func populatedStub() *stubStore {
	return &stubStore{
		announcements: []store.Announcement{{ID: 1, Title: "welcome"}},
		resources:     []store.Resource{{CatalogID: 1, Path: "/resources/a"}},
		recent:        []store.ActivityEntry{{ID: 1, ResourceName: "Doc A", AccessedAt: time.Now()}},
		bookmarks:     []store.BookmarkEntry{{FileID: 1, Path: "/resources/a"}},
		training:      []store.TrainingProgress{{ModuleKey: "hipaa-basics"}},
	}
}

func TestBuildAssemblesAllFeeds(t *testing.T) {
	st := populatedStub()
	payload := NewAggregator(st, nil).Build(context.Background(), 1, 5)

	if len(payload.Announcements) != 1 || len(payload.Resources) != 1 ||
		len(payload.RecentActivity) != 1 || len(payload.Bookmarks) != 1 || len(payload.Training) != 1 {
		t.Fatalf("all feeds expected, got %+v", payload)
	}
	if payload.Errors != nil {
		t.Fatalf("no errors expected, got %v", payload.Errors)
	}
}

func TestBuildIsolatesFeedFailures(t *testing.T) {
	st := populatedStub()
	st.recentErr = errors.New("db down")

	payload := NewAggregator(st, nil).Build(context.Background(), 1, 5)

	if len(payload.RecentActivity) != 0 {
		t.Fatal("failed feed must stay empty")
	}
	if payload.Errors["recent_activity"] == "" {
		t.Fatalf("failure must be recorded per feed, got %v", payload.Errors)
	}
	// 其余各路不受影响
	if len(payload.Announcements) != 1 || len(payload.Bookmarks) != 1 || len(payload.Training) != 1 {
		t.Fatal("sibling feeds must survive one feed failing")
	}
}

func TestBuildWithoutProfileSkipsProfileFeeds(t *testing.T) {
	st := populatedStub()
	payload := NewAggregator(st, nil).Build(context.Background(), 1, 0)

	if st.profileFeedCalls.Load() != 0 {
		t.Fatalf("no profile feed should be queried, got %d calls", st.profileFeedCalls.Load())
	}
	if len(payload.RecentActivity) != 0 || len(payload.Bookmarks) != 0 || len(payload.Training) != 0 {
		t.Fatal("profile feeds must be empty without a selected profile")
	}
	if len(payload.Announcements) != 1 || len(payload.Resources) != 1 {
		t.Fatal("account feeds still expected")
	}
}

func TestBuildMultipleFailuresAllRecorded(t *testing.T) {
	st := populatedStub()
	st.recentErr = errors.New("db down")
	st.announcementsErr = errors.New("also down")

	payload := NewAggregator(st, nil).Build(context.Background(), 1, 5)

	if len(payload.Errors) != 2 {
		t.Fatalf("expected 2 recorded failures, got %v", payload.Errors)
	}
}
