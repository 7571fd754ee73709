package profile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"rxportal/internal/database"
	"rxportal/internal/store"
)

// ErrIdentityRequired 表示新档案缺少标识字段（角色、名、姓至少其一）。
var ErrIdentityRequired = errors.New("profile requires a role, first name, or last name")

// ErrDefaultProfileProtected 表示账号的 Pharmacy 哨兵档案不可删除。
var ErrDefaultProfileProtected = errors.New("the default pharmacy profile cannot be deleted")

// Directory 持有账号下的档案集合与“当前档案”引用，是档案对象的唯一事实来源。
// 档案集合与当前档案只由 Directory 写入。
type Directory struct {
	store      store.Store
	selections SelectionStore
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string
	accountID uint
	profiles  []store.Profile
	current   *store.Profile
}

// NewDirectory 构造 Directory。
func NewDirectory(st store.Store, selections SelectionStore, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:      st,
		selections: selections,
		logger:     logger,
	}
}

// BindSession 绑定会话 ID，决定选择持久化的键。
func (d *Directory) BindSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = sessionID
}

// LoadProfiles 拉取账号全部档案并整体替换内存集合（按创建时间升序）。
// 档案读远多于写，整体替换比增量合并简单且正确。
func (d *Directory) LoadProfiles(ctx context.Context, accountID uint) error {
	profiles, err := d.store.ProfilesByAccount(ctx, accountID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.accountID = accountID
	d.profiles = profiles
	d.mu.Unlock()
	return nil
}

// Profiles 返回档案集合的副本。
func (d *Directory) Profiles() []store.Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]store.Profile, len(d.profiles))
	copy(out, d.profiles)
	return out
}

// AddProfile 校验标识字段后插入档案，并把新档案追加到内存集合
//（避免一次冗余的整体重载）。校验失败时不发起任何远端调用。
func (d *Directory) AddProfile(ctx context.Context, p store.NewProfile) (*store.Profile, error) {
	if strings.TrimSpace(p.Role) == "" &&
		strings.TrimSpace(p.FirstName) == "" &&
		strings.TrimSpace(p.LastName) == "" {
		return nil, ErrIdentityRequired
	}

	created, err := d.store.InsertProfile(ctx, p)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.profiles = append(d.profiles, *created)
	d.mu.Unlock()
	return created, nil
}

// UpdateProfile 就地更新档案；若更新的是当前档案，一并刷新持久化的选择。
func (d *Directory) UpdateProfile(ctx context.Context, id uint, patch store.ProfilePatch) (*store.Profile, error) {
	updated, err := d.store.UpdateProfile(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.replaceLocked(updated)
	isCurrent := d.current != nil && d.current.ID == updated.ID
	if isCurrent {
		d.current = updated
	}
	sessionID := d.sessionID
	d.mu.Unlock()

	if isCurrent {
		d.persistSelection(ctx, sessionID, updated)
	}
	return updated, nil
}

// DeleteProfile 删除档案；Pharmacy 哨兵档案受保护。
// 删除的是当前档案时顺带清空选择。
func (d *Directory) DeleteProfile(ctx context.Context, id uint) error {
	d.mu.RLock()
	var target *store.Profile
	for i := range d.profiles {
		if d.profiles[i].ID == id {
			target = &d.profiles[i]
			break
		}
	}
	d.mu.RUnlock()

	if target != nil && target.Role == database.RolePharmacy {
		return ErrDefaultProfileProtected
	}

	if err := d.store.DeleteProfile(ctx, id); err != nil {
		return err
	}

	d.mu.Lock()
	kept := d.profiles[:0]
	for _, p := range d.profiles {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	d.profiles = kept
	wasCurrent := d.current != nil && d.current.ID == id
	d.mu.Unlock()

	if wasCurrent {
		d.SetCurrentProfile(ctx, nil)
	}
	return nil
}

// SetCurrentProfile 设置当前档案并持久化选择；传 nil 同时清空两者。
func (d *Directory) SetCurrentProfile(ctx context.Context, p *store.Profile) {
	d.mu.Lock()
	d.current = p
	sessionID := d.sessionID
	d.mu.Unlock()

	if sessionID == "" || d.selections == nil {
		return
	}
	if p == nil {
		if err := d.selections.Clear(ctx, sessionID); err != nil {
			d.logger.Warn("clear persisted profile selection failed", slog.Any("error", err))
		}
		return
	}
	d.persistSelection(ctx, sessionID, p)
}

// RestoreSelection 从持久化存储恢复当前档案。持久化的只是弱引用，
// 要对着已加载的档案集合解析；解析不到（档案已删除）按无选择处理。
func (d *Directory) RestoreSelection(ctx context.Context) *store.Profile {
	d.mu.RLock()
	sessionID := d.sessionID
	d.mu.RUnlock()

	if sessionID == "" || d.selections == nil {
		return nil
	}

	saved, err := d.selections.Load(ctx, sessionID)
	if err != nil {
		d.logger.Warn("load persisted profile selection failed", slog.Any("error", err))
		return nil
	}
	if saved == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.profiles {
		if d.profiles[i].ID == saved.ID {
			resolved := d.profiles[i]
			d.current = &resolved
			return &resolved
		}
	}
	d.current = nil
	return nil
}

// RefreshCurrentProfile 按 ID 重新拉取当前档案并就地替换，
// 供其他界面编辑后防止缓存过期。
func (d *Directory) RefreshCurrentProfile(ctx context.Context) (*store.Profile, error) {
	d.mu.RLock()
	current := d.current
	sessionID := d.sessionID
	d.mu.RUnlock()

	if current == nil {
		return nil, nil
	}

	fresh, err := d.store.ProfileByID(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.replaceLocked(fresh)
	d.current = fresh
	d.mu.Unlock()

	d.persistSelection(ctx, sessionID, fresh)
	return fresh, nil
}

// CurrentProfile 返回当前档案（未选择时为 nil）。
func (d *Directory) CurrentProfile() *store.Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// CurrentProfileID 返回当前档案 ID，未选择时为 0。
func (d *Directory) CurrentProfileID() uint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == nil {
		return 0
	}
	return d.current.ID
}

// ProfileByID 在内存集合中解析档案。
func (d *Directory) ProfileByID(id uint) *store.Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.profiles {
		if d.profiles[i].ID == id {
			p := d.profiles[i]
			return &p
		}
	}
	return nil
}

// EnsureDefaultProfile 确保账号存在 Pharmacy 哨兵档案，缺失时创建。
func (d *Directory) EnsureDefaultProfile(ctx context.Context, accountID uint) error {
	d.mu.RLock()
	for i := range d.profiles {
		if d.profiles[i].Role == database.RolePharmacy {
			d.mu.RUnlock()
			return nil
		}
	}
	d.mu.RUnlock()

	created, err := d.store.InsertProfile(ctx, store.NewProfile{
		AccountID: accountID,
		Role:      database.RolePharmacy,
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.profiles = append(d.profiles, *created)
	d.mu.Unlock()
	return nil
}

func (d *Directory) persistSelection(ctx context.Context, sessionID string, p *store.Profile) {
	if sessionID == "" || d.selections == nil || p == nil {
		return
	}
	if err := d.selections.Save(ctx, sessionID, p); err != nil {
		// 选择丢失只意味着刷新后要重选一次，不值得让操作失败。
		d.logger.Warn("persist profile selection failed", slog.Any("error", err))
	}
}

func (d *Directory) replaceLocked(p *store.Profile) {
	for i := range d.profiles {
		if d.profiles[i].ID == p.ID {
			d.profiles[i] = *p
			return
		}
	}
	d.profiles = append(d.profiles, *p)
}
