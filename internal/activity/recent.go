package activity

import (
	"context"
	"time"

	"rxportal/internal/store"
)

// Recent 是档案级的资源访问日志（只追加，无唯一约束）。
type Recent struct {
	store store.Store
}

// NewRecent 构造 Recent。
func NewRecent(st store.Store) *Recent {
	return &Recent{store: st}
}

// Record 追加一条访问日志。
func (r *Recent) Record(ctx context.Context, profileID uint, resourceName string) error {
	return r.store.InsertActivity(ctx, profileID, resourceName, time.Now())
}

// Latest 返回档案最近 n 条访问日志。
func (r *Recent) Latest(ctx context.Context, profileID uint, n int) ([]store.ActivityEntry, error) {
	return r.store.RecentActivity(ctx, profileID, n)
}
