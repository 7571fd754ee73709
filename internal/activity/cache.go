package activity

import (
	"context"
	"log/slog"

	"rxportal/internal/store"
)

// Cache 聚合档案级的三类活动状态：收藏缓存、最近访问、培训进度。
// 每个会话一份，随当前档案切换。
type Cache struct {
	Bookmarks *Bookmarks
	Recent    *Recent
	Training  *Training

	logger *slog.Logger
}

// NewCache 构造 Cache。
func NewCache(st store.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		Bookmarks: NewBookmarks(st, logger),
		Recent:    NewRecent(st),
		Training:  NewTraining(st),
		logger:    logger,
	}
}

// SwitchProfile 在当前档案变更时重建收藏缓存：先清空再按新档案装载。
// profileID 为 0（取消选择）只清空。装载失败按瞬时读错误处理：
// 记日志、留空缓存（not ready），绝不阻断门户访问。
func (c *Cache) SwitchProfile(ctx context.Context, profileID uint) {
	c.Bookmarks.Clear()
	if profileID == 0 {
		return
	}
	if err := c.Bookmarks.Load(ctx, profileID); err != nil {
		c.logger.Warn("load bookmarks after profile switch failed",
			slog.Uint64("profile_id", uint64(profileID)),
			slog.Any("error", err),
		)
	}
}
