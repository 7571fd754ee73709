package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"rxportal/internal/auth"
	"rxportal/internal/store"
)

// ErrAuthentication 表示凭证错误或会话失效；原样上抛，绝不自动重试。
var ErrAuthentication = errors.New("authentication failed")

// State 是会话状态机的状态。
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "uninitialized"
	}
}

// Manager 持有账号级认证状态。Account 字段只由 Manager 写入。
//
// 状态机：Uninitialized → Initializing → {Authenticated, Anonymous}。
// 离开 Authenticated/Anonymous 回到 Initializing 的唯一途径是显式 CheckSession；
// Logout 直接从 Authenticated 进入 Anonymous。
type Manager struct {
	store   store.Store
	tokens  *auth.SessionService
	records RecordStore
	logger  *slog.Logger

	mu          sync.RWMutex
	state       State
	initialized bool
	sessionID   string
	account     *store.Account
}

// NewManager 构造处于 Uninitialized 状态的 Manager。
func NewManager(st store.Store, tokens *auth.SessionService, records RecordStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   st,
		tokens:  tokens,
		records: records,
		logger:  logger,
		state:   StateUninitialized,
	}
}

// BindSession 绑定一个已通过令牌校验的会话 ID（用于进程重入后的恢复）。
func (m *Manager) BindSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = sessionID
}

// Login 校验凭证并建立会话，随后执行一次完整的会话检查。
// 凭证错误返回 ErrAuthentication。
func (m *Manager) Login(ctx context.Context, email, password string) (string, error) {
	accountID, passwordHash, err := m.store.CredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrAuthentication
		}
		return "", err
	}
	if !auth.CheckPasswordHash(password, passwordHash) {
		return "", ErrAuthentication
	}

	token, sessionID, err := m.tokens.IssueToken(accountID)
	if err != nil {
		return "", err
	}
	if err := m.records.Save(ctx, sessionID, accountID); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessionID = sessionID
	m.mu.Unlock()

	m.CheckSession(ctx)
	return token, nil
}

// CheckSession 幂等地读取现有会话并装载账号。
// 不论装载成功与否，结束时 Initialized 一定为 true——瞬时后端错误
// 只会让账号留空，绝不会把状态机卡在未初始化。
func (m *Manager) CheckSession(ctx context.Context) {
	m.mu.Lock()
	m.state = StateInitializing
	sessionID := m.sessionID
	m.mu.Unlock()

	finish := func(state State, account *store.Account) {
		m.mu.Lock()
		m.state = state
		m.account = account
		m.initialized = true
		m.mu.Unlock()
	}

	if sessionID == "" {
		finish(StateAnonymous, nil)
		return
	}

	accountID, found, err := m.records.Lookup(ctx, sessionID)
	if err != nil {
		m.logger.Warn("session lookup failed", slog.Any("error", err))
		finish(StateAnonymous, nil)
		return
	}
	if !found {
		finish(StateAnonymous, nil)
		return
	}

	account, err := m.store.AccountByID(ctx, accountID)
	if err != nil {
		m.logger.Warn("account fetch failed during session check",
			slog.Uint64("account_id", uint64(accountID)),
			slog.Any("error", err),
		)
		finish(StateAnonymous, nil)
		return
	}

	finish(StateAuthenticated, account)
}

// Logout 撤销远端会话并清空本地状态。本地优先：网络失败也不返回错误。
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	if sessionID != "" {
		if err := m.records.Revoke(ctx, sessionID); err != nil {
			m.logger.Warn("session revoke failed, clearing local state anyway",
				slog.Any("error", err),
			)
		}
	}

	m.mu.Lock()
	m.sessionID = ""
	m.account = nil
	m.state = StateAnonymous
	m.mu.Unlock()
}

// UpdateAccount 对账号做部分更新；无活动会话时返回 (nil, nil)。
func (m *Manager) UpdateAccount(ctx context.Context, patch store.AccountPatch) (*store.Account, error) {
	m.mu.RLock()
	account := m.account
	m.mu.RUnlock()

	if account == nil {
		return nil, nil
	}

	updated, err := m.store.UpdateAccount(ctx, account.ID, patch)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.account = updated
	m.mu.Unlock()
	return updated, nil
}

// State 返回当前状态。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Initialized 返回是否已完成至少一次会话检查。
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Account 返回当前账号（未认证时为 nil）。
func (m *Manager) Account() *store.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// SessionID 返回当前会话 ID（匿名时为空）。
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}
