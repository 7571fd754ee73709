package dashboard

import (
	"context"
	"log/slog"
	"sync"

	"rxportal/internal/store"
)

const recentFeedLimit = 10

// Payload 是仪表盘一次装配出的全部数据。
// Errors 按数据源隔离记录失败；某一路失败不影响其余各路。
type Payload struct {
	Announcements  []store.Announcement     `json:"announcements"`
	Resources      []store.Resource         `json:"resources"`
	RecentActivity []store.ActivityEntry    `json:"recent_activity"`
	Bookmarks      []store.BookmarkEntry    `json:"bookmarks"`
	Training       []store.TrainingProgress `json:"training"`
	Errors         map[string]string        `json:"errors,omitempty"`
}

// Aggregator 是只读的装配层：并发拉取账号级与档案级数据源并合成一份
// 视图载荷。自身不做缓存，也不向下游暴露任何状态。
type Aggregator struct {
	store  store.Store
	logger *slog.Logger
}

// NewAggregator 构造 Aggregator。
func NewAggregator(st store.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: st, logger: logger}
}

// Build 并发拉取五路数据源。profileID 为 0（未选择档案）时档案级
// 数据源留空。任何一路失败都只记入 Errors，绝不整页失败。
func (a *Aggregator) Build(ctx context.Context, accountID, profileID uint) *Payload {
	payload := &Payload{
		Announcements:  []store.Announcement{},
		Resources:      []store.Resource{},
		RecentActivity: []store.ActivityEntry{},
		Bookmarks:      []store.BookmarkEntry{},
		Training:       []store.TrainingProgress{},
	}

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		errs    = map[string]string{}
		capture = func(feed string, err error) {
			a.logger.Warn("dashboard feed failed",
				slog.String("feed", feed),
				slog.Any("error", err),
			)
			errMu.Lock()
			errs[feed] = err.Error()
			errMu.Unlock()
		}
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		announcements, err := a.store.Announcements(ctx, accountID, 20)
		if err != nil {
			capture("announcements", err)
			return
		}
		payload.Announcements = announcements
	}()
	go func() {
		defer wg.Done()
		resources, err := a.store.Resources(ctx)
		if err != nil {
			capture("resources", err)
			return
		}
		payload.Resources = resources
	}()

	if profileID != 0 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			recent, err := a.store.RecentActivity(ctx, profileID, recentFeedLimit)
			if err != nil {
				capture("recent_activity", err)
				return
			}
			payload.RecentActivity = recent
		}()
		go func() {
			defer wg.Done()
			bookmarks, err := a.store.BookmarksWithResources(ctx, profileID)
			if err != nil {
				capture("bookmarks", err)
				return
			}
			payload.Bookmarks = bookmarks
		}()
		go func() {
			defer wg.Done()
			training, err := a.store.TrainingProgressByProfile(ctx, profileID)
			if err != nil {
				capture("training", err)
				return
			}
			payload.Training = training
		}()
	}

	wg.Wait()
	if len(errs) > 0 {
		payload.Errors = errs
	}
	return payload
}
