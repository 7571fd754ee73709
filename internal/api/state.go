package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rxportal/internal/activity"
	"rxportal/internal/auth"
	"rxportal/internal/profile"
	"rxportal/internal/session"
	"rxportal/internal/store"
)

const defaultStateIdleTTL = 30 * time.Minute

// portalState 是一个会话的门户状态快照：账号级会话管理器、
// 档案目录与档案级活动缓存。三者生命周期一致，随会话创建与销毁。
type portalState struct {
	manager   *session.Manager
	directory *profile.Directory
	cache     *activity.Cache

	lastSeen time.Time
}

// stateRegistry 按会话 ID 托管 portalState。首次访问（或进程重启后
// 会话重入）时按远端真相水合：检查会话、装载档案、恢复档案选择、
// 重建收藏缓存。
type stateRegistry struct {
	store      store.Store
	tokens     *auth.SessionService
	records    session.RecordStore
	selections profile.SelectionStore
	logger     *slog.Logger
	idleTTL    time.Duration

	mu     sync.Mutex
	states map[string]*portalState
}

func newStateRegistry(
	st store.Store,
	tokens *auth.SessionService,
	records session.RecordStore,
	selections profile.SelectionStore,
	logger *slog.Logger,
) *stateRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &stateRegistry{
		store:      st,
		tokens:     tokens,
		records:    records,
		selections: selections,
		logger:     logger,
		idleTTL:    defaultStateIdleTTL,
		states:     map[string]*portalState{},
	}
}

// get 返回会话的门户状态，必要时水合。水合过程中档案装载或选择恢复
// 失败只记日志：空集合是安全的降级状态，门户仍可访问。
func (r *stateRegistry) get(ctx context.Context, sessionID string) *portalState {
	now := time.Now()

	r.mu.Lock()
	r.sweepLocked(now)
	if st, ok := r.states[sessionID]; ok {
		st.lastSeen = now
		r.mu.Unlock()
		return st
	}
	r.mu.Unlock()

	st := r.hydrate(ctx, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	// 并发水合同一会话时保留先入者，丢弃本次结果。
	if existing, ok := r.states[sessionID]; ok {
		existing.lastSeen = now
		return existing
	}
	st.lastSeen = now
	r.states[sessionID] = st
	return st
}

func (r *stateRegistry) hydrate(ctx context.Context, sessionID string) *portalState {
	manager := session.NewManager(r.store, r.tokens, r.records, r.logger)
	manager.BindSession(sessionID)
	manager.CheckSession(ctx)

	directory := profile.NewDirectory(r.store, r.selections, r.logger)
	directory.BindSession(sessionID)

	cache := activity.NewCache(r.store, r.logger)

	if account := manager.Account(); account != nil {
		if err := directory.LoadProfiles(ctx, account.ID); err != nil {
			r.logger.Warn("load profiles during session hydration failed",
				slog.Uint64("account_id", uint64(account.ID)),
				slog.Any("error", err),
			)
		} else {
			if err := directory.EnsureDefaultProfile(ctx, account.ID); err != nil {
				r.logger.Warn("ensure default profile failed",
					slog.Uint64("account_id", uint64(account.ID)),
					slog.Any("error", err),
				)
			}
			if restored := directory.RestoreSelection(ctx); restored != nil {
				cache.SwitchProfile(ctx, restored.ID)
			}
		}
	}

	return &portalState{
		manager:   manager,
		directory: directory,
		cache:     cache,
	}
}

// adopt 在登录成功后注册已就绪的 Manager，避免紧接着的首个请求
// 重复做一遍会话检查。
func (r *stateRegistry) adopt(ctx context.Context, manager *session.Manager) *portalState {
	sessionID := manager.SessionID()
	if sessionID == "" {
		return nil
	}

	directory := profile.NewDirectory(r.store, r.selections, r.logger)
	directory.BindSession(sessionID)
	cache := activity.NewCache(r.store, r.logger)

	if account := manager.Account(); account != nil {
		if err := directory.LoadProfiles(ctx, account.ID); err != nil {
			r.logger.Warn("load profiles after login failed",
				slog.Uint64("account_id", uint64(account.ID)),
				slog.Any("error", err),
			)
		} else if err := directory.EnsureDefaultProfile(ctx, account.ID); err != nil {
			r.logger.Warn("ensure default profile failed",
				slog.Uint64("account_id", uint64(account.ID)),
				slog.Any("error", err),
			)
		}
	}

	st := &portalState{
		manager:   manager,
		directory: directory,
		cache:     cache,
		lastSeen:  time.Now(),
	}

	r.mu.Lock()
	r.states[sessionID] = st
	r.mu.Unlock()
	return st
}

// drop 在登出时移除会话状态。
func (r *stateRegistry) drop(sessionID string) {
	r.mu.Lock()
	delete(r.states, sessionID)
	r.mu.Unlock()
}

// sweepLocked 惰性清理超过空闲期的状态。远端会话记录由 Redis TTL
// 管辖，这里只回收进程内存。调用方必须持有 r.mu。
func (r *stateRegistry) sweepLocked(now time.Time) {
	for id, st := range r.states {
		if now.Sub(st.lastSeen) > r.idleTTL {
			delete(r.states, id)
		}
	}
}
