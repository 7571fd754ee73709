package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"rxportal/internal/metrics"
	"rxportal/internal/store"
)

// ErrResourceNotFound 表示收藏操作引用了目录中不存在的资源；
// 上抛给调用方，不产生任何部分状态变更。
var ErrResourceNotFound = errors.New("resource not found in catalog")

// Resource 是调用方提供的资源引用。Path 稳定且面向用户；
// CatalogID 是后端分配的外键，为 0 时按 Path 到目录中解析。
type Resource struct {
	Path      string
	CatalogID uint
}

// Bookmarks 是档案级收藏缓存：本地维护 path → catalog ID 投影，
// 对 UI 提供同步读取（资源列表渲染数百项，不能逐项发请求）。
//
// 缓存只在远端调用成功之后变更，收藏图标永远不会展示后端不认可的状态。
// 缓存内容只由本类型写入。
type Bookmarks struct {
	store  store.Store
	logger *slog.Logger

	mu        sync.RWMutex
	ready     bool
	profileID uint
	paths     map[string]uint

	// 同一 (档案, 资源) 的并发 toggle 合并为一次在途请求，快速双击不再竞态。
	flight singleflight.Group
}

// NewBookmarks 构造空的收藏缓存。
func NewBookmarks(st store.Store, logger *slog.Logger) *Bookmarks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bookmarks{
		store:  st,
		logger: logger,
		paths:  map[string]uint{},
	}
}

// Ready 返回缓存是否已完成首次装载。未装载时 IsBookmarked 的 false
// 表示“尚未可知”，而非“未收藏”。
func (b *Bookmarks) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// IsBookmarked 同步回答路径是否已收藏，完全由本地缓存作答，绝不触发网络调用。
func (b *Bookmarks) IsBookmarked(path string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.paths[path]
	return ok
}

// Paths 返回已收藏路径的快照。
func (b *Bookmarks) Paths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.paths))
	for path := range b.paths {
		out = append(out, path)
	}
	return out
}

// Load 拉取档案的全部收藏（join 资源目录）并整体替换缓存。
// join 缺失的行（资源已从目录移除）跳过，不让整次装载失败。
func (b *Bookmarks) Load(ctx context.Context, profileID uint) error {
	entries, err := b.store.BookmarksWithResources(ctx, profileID)
	if err != nil {
		return err
	}

	paths := make(map[string]uint, len(entries))
	for _, entry := range entries {
		if entry.FileID == 0 || entry.Path == "" {
			continue
		}
		paths[entry.Path] = entry.FileID
	}

	b.mu.Lock()
	b.profileID = profileID
	b.paths = paths
	b.ready = true
	b.mu.Unlock()

	metrics.SetBookmarkCacheSize(len(paths))
	return nil
}

// Toggle 翻转 (档案, 资源) 的收藏状态，返回翻转后的状态。
//
// 已收藏：用缓存中的 catalog ID（不重新解析）删除远端行，再移除缓存项。
// 未收藏：必要时按 Path 解析 catalog ID（解析不到返回 ErrResourceNotFound），
// 插入远端行，再写入缓存项。远端失败时缓存保持原状，错误原样上抛。
func (b *Bookmarks) Toggle(ctx context.Context, profileID uint, res Resource) (bool, error) {
	key := fmt.Sprintf("%d|%s", profileID, res.Path)
	result, err, _ := b.flight.Do(key, func() (any, error) {
		return b.toggle(ctx, profileID, res)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (b *Bookmarks) toggle(ctx context.Context, profileID uint, res Resource) (bool, error) {
	b.mu.RLock()
	cachedID, wasBookmarked := b.paths[res.Path]
	b.mu.RUnlock()

	if wasBookmarked {
		if err := b.store.DeleteBookmark(ctx, profileID, cachedID); err != nil {
			return true, err
		}
		b.mu.Lock()
		delete(b.paths, res.Path)
		size := len(b.paths)
		b.mu.Unlock()

		metrics.SetBookmarkCacheSize(size)
		metrics.IncBookmarkToggle("remove")
		return false, nil
	}

	catalogID := res.CatalogID
	if catalogID == 0 {
		resolved, err := b.store.ResourceByPath(ctx, res.Path)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return false, fmt.Errorf("%w: %s", ErrResourceNotFound, res.Path)
			}
			return false, err
		}
		catalogID = resolved.CatalogID
	}

	if err := b.store.InsertBookmark(ctx, profileID, catalogID); err != nil {
		return false, err
	}

	b.mu.Lock()
	b.paths[res.Path] = catalogID
	size := len(b.paths)
	b.mu.Unlock()

	metrics.SetBookmarkCacheSize(size)
	metrics.IncBookmarkToggle("add")
	return true, nil
}

// Clear 清空本地缓存，不发任何远端调用。切换当前档案时必须调用：
// 收藏状态不跨档案共享，跨档案残留是正确性问题。
func (b *Bookmarks) Clear() {
	b.mu.Lock()
	b.profileID = 0
	b.paths = map[string]uint{}
	b.ready = false
	b.mu.Unlock()

	metrics.SetBookmarkCacheSize(0)
}

// ProfileID 返回缓存当前装载的档案 ID（未装载为 0）。
func (b *Bookmarks) ProfileID() uint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.profileID
}
