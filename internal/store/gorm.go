package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rxportal/internal/database"
)

// GormStore 以 GORM 实现 Store 网关。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 构造 GormStore。
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CredentialsByEmail 返回登录校验所需的最小信息。
func (s *GormStore) CredentialsByEmail(ctx context.Context, email string) (uint, string, error) {
	var row database.Account
	if err := s.db.WithContext(ctx).
		Select("id", "password_hash").
		Where("email = ?", email).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, "", ErrNotFound
		}
		return 0, "", err
	}
	return row.ID, row.PasswordHash, nil
}

func (s *GormStore) AccountByID(ctx context.Context, id uint) (*Account, error) {
	var row database.Account
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return mapRowToAccount(row), nil
}

// UpdateAccount 只写入 patch 中提供的字段，并返回刷新后的账号。
func (s *GormStore) UpdateAccount(ctx context.Context, id uint, patch AccountPatch) (*Account, error) {
	updates := map[string]any{}
	if patch.PharmacyName != nil {
		updates["pharmacy_name"] = *patch.PharmacyName
	}
	if patch.Phone != nil {
		updates["phone"] = *patch.Phone
	}
	if patch.AddressLine != nil {
		updates["address_line"] = *patch.AddressLine
	}
	if patch.City != nil {
		updates["city"] = *patch.City
	}
	if patch.State != nil {
		updates["state"] = *patch.State
	}
	if patch.Zip != nil {
		updates["zip"] = *patch.Zip
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).
			Model(&database.Account{}).
			Where("id = ?", id).
			Updates(updates).Error; err != nil {
			return nil, syncErr("update", "accounts", err)
		}
	}
	return s.AccountByID(ctx, id)
}

// ProfilesByAccount 返回账号下全部档案，按创建时间升序（列表 UI 的稳定顺序）。
func (s *GormStore) ProfilesByAccount(ctx context.Context, accountID uint) ([]Profile, error) {
	var rows []database.MemberProfile
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, *mapRowToProfile(row))
	}
	return profiles, nil
}

func (s *GormStore) ProfileByID(ctx context.Context, id uint) (*Profile, error) {
	var row database.MemberProfile
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return mapRowToProfile(row), nil
}

func (s *GormStore) InsertProfile(ctx context.Context, p NewProfile) (*Profile, error) {
	row := database.MemberProfile{
		AccountID: p.AccountID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      p.Role,
		Email:     p.Email,
		Phone:     p.Phone,
		Active:    true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, syncErr("insert", "member_profiles", err)
	}
	return mapRowToProfile(row), nil
}

// UpdateProfile 只写入 patch 中提供的字段。AccountID 永不更新。
func (s *GormStore) UpdateProfile(ctx context.Context, id uint, patch ProfilePatch) (*Profile, error) {
	updates := map[string]any{}
	if patch.FirstName != nil {
		updates["first_name"] = *patch.FirstName
	}
	if patch.LastName != nil {
		updates["last_name"] = *patch.LastName
	}
	if patch.Role != nil {
		updates["role"] = *patch.Role
	}
	if patch.Email != nil {
		updates["email"] = *patch.Email
	}
	if patch.Phone != nil {
		updates["phone"] = *patch.Phone
	}
	if patch.Active != nil {
		updates["active"] = *patch.Active
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).
			Model(&database.MemberProfile{}).
			Where("id = ?", id).
			Updates(updates).Error; err != nil {
			return nil, syncErr("update", "member_profiles", err)
		}
	}
	return s.ProfileByID(ctx, id)
}

func (s *GormStore) DeleteProfile(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).Delete(&database.MemberProfile{}, id).Error; err != nil {
		return syncErr("delete", "member_profiles", err)
	}
	return nil
}

func (s *GormStore) ResourceByPath(ctx context.Context, path string) (*Resource, error) {
	var row database.StorageFileCatalog
	if err := s.db.WithContext(ctx).Where("path = ?", path).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return mapRowToResource(row), nil
}

func (s *GormStore) Resources(ctx context.Context) ([]Resource, error) {
	var rows []database.StorageFileCatalog
	if err := s.db.WithContext(ctx).
		Order("category ASC, display_name ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	resources := make([]Resource, 0, len(rows))
	for _, row := range rows {
		resources = append(resources, *mapRowToResource(row))
	}
	return resources, nil
}

// BookmarksWithResources 返回收藏行与资源目录 join 的结果。
// 目录中已被移除的资源（join 缺失）由调用方跳过。
func (s *GormStore) BookmarksWithResources(ctx context.Context, profileID uint) ([]BookmarkEntry, error) {
	var rows []database.Bookmark
	if err := s.db.WithContext(ctx).
		Preload("File").
		Where("profile_id = ?", profileID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]BookmarkEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, BookmarkEntry{
			FileID:      row.FileID,
			Path:        row.File.Path,
			DisplayName: row.File.DisplayName,
			CreatedAt:   row.CreatedAt,
		})
	}
	return entries, nil
}

func (s *GormStore) InsertBookmark(ctx context.Context, profileID, fileID uint) error {
	row := database.Bookmark{ProfileID: profileID, FileID: fileID}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return syncErr("insert", "bookmarks", err)
	}
	return nil
}

func (s *GormStore) DeleteBookmark(ctx context.Context, profileID, fileID uint) error {
	if err := s.db.WithContext(ctx).
		Where("profile_id = ? AND file_id = ?", profileID, fileID).
		Delete(&database.Bookmark{}).Error; err != nil {
		return syncErr("delete", "bookmarks", err)
	}
	return nil
}

func (s *GormStore) InsertActivity(ctx context.Context, profileID uint, resourceName string, accessedAt time.Time) error {
	row := database.RecentActivity{
		ProfileID:    profileID,
		ResourceName: resourceName,
		AccessedAt:   accessedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return syncErr("insert", "recent_activity", err)
	}
	return nil
}

func (s *GormStore) RecentActivity(ctx context.Context, profileID uint, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []database.RecentActivity
	if err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("accessed_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]ActivityEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, ActivityEntry{
			ID:           row.ID,
			ProfileID:    row.ProfileID,
			ResourceName: row.ResourceName,
			AccessedAt:   row.AccessedAt,
		})
	}
	return entries, nil
}

// TrimActivity 只保留最近 keep 条日志，其余删除。
func (s *GormStore) TrimActivity(ctx context.Context, profileID uint, keep int) error {
	if keep <= 0 {
		keep = 50
	}
	err := s.db.WithContext(ctx).Exec(`
		DELETE FROM recent_activity
		WHERE profile_id = ?
		  AND id NOT IN (
			SELECT id FROM (
				SELECT id FROM recent_activity
				WHERE profile_id = ?
				ORDER BY accessed_at DESC, id DESC
				LIMIT ?
			) AS keep_rows
		  )`, profileID, profileID, keep).Error
	if err != nil {
		return syncErr("delete", "recent_activity", err)
	}
	return nil
}

func (s *GormStore) TrainingProgress(ctx context.Context, profileID uint, moduleKey string) (*TrainingProgress, error) {
	var row database.MemberTrainingProgress
	if err := s.db.WithContext(ctx).
		Where("profile_id = ? AND module_key = ?", profileID, moduleKey).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return mapRowToTraining(row, s.moduleTitle(ctx, moduleKey)), nil
}

type trainingJoinRow struct {
	database.MemberTrainingProgress
	ModuleTitle string
}

// TrainingProgressByProfile 返回档案全部培训进度，join 模块名称表。
func (s *GormStore) TrainingProgressByProfile(ctx context.Context, profileID uint) ([]TrainingProgress, error) {
	var rows []trainingJoinRow
	if err := s.db.WithContext(ctx).
		Table("member_training_progress").
		Select("member_training_progress.*, training_modules.title AS module_title").
		Joins("LEFT JOIN training_modules ON training_modules.module_key = member_training_progress.module_key").
		Where("member_training_progress.profile_id = ? AND member_training_progress.deleted_at IS NULL", profileID).
		Order("member_training_progress.module_key ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]TrainingProgress, 0, len(rows))
	for _, row := range rows {
		result = append(result, *mapRowToTraining(row.MemberTrainingProgress, row.ModuleTitle))
	}
	return result, nil
}

// UpsertTrainingStart 是幂等的开始操作：重复调用只递增 attempts 并补齐缺失的
// 开始时间，绝不清零已有的完成百分比。
func (s *GormStore) UpsertTrainingStart(ctx context.Context, profileID uint, moduleKey string, now time.Time) (*TrainingProgress, error) {
	row := database.MemberTrainingProgress{
		ProfileID:            profileID,
		ModuleKey:            moduleKey,
		CompletionPercentage: 0,
		CompletionStatus:     database.TrainingInProgress,
		Attempts:             1,
		StartedAt:            &now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "profile_id"}, {Name: "module_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			"completion_status": gorm.Expr(
				"CASE WHEN completion_status = ? THEN ? ELSE completion_status END",
				database.TrainingNotStarted, database.TrainingInProgress,
			),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, syncErr("upsert", "member_training_progress", err)
	}
	return s.TrainingProgress(ctx, profileID, moduleKey)
}

// UpsertTrainingRestart 是显式的重新开始：清零百分比并重置状态与时间戳。
func (s *GormStore) UpsertTrainingRestart(ctx context.Context, profileID uint, moduleKey string, now time.Time) (*TrainingProgress, error) {
	row := database.MemberTrainingProgress{
		ProfileID:            profileID,
		ModuleKey:            moduleKey,
		CompletionPercentage: 0,
		CompletionStatus:     database.TrainingInProgress,
		Attempts:             1,
		StartedAt:            &now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "profile_id"}, {Name: "module_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"completion_percentage": 0,
			"completion_status":     database.TrainingInProgress,
			"attempts":              gorm.Expr("attempts + 1"),
			"started_at":            now,
			"completed_at":          nil,
			"updated_at":            now,
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, syncErr("upsert", "member_training_progress", err)
	}
	return s.TrainingProgress(ctx, profileID, moduleKey)
}

// UpsertTrainingProgress 写入业务层已计算好的进度值。
func (s *GormStore) UpsertTrainingProgress(ctx context.Context, profileID uint, moduleKey string, percentage int, status string, completedAt *time.Time) (*TrainingProgress, error) {
	now := time.Now()
	row := database.MemberTrainingProgress{
		ProfileID:            profileID,
		ModuleKey:            moduleKey,
		CompletionPercentage: percentage,
		CompletionStatus:     status,
		StartedAt:            &now,
		CompletedAt:          completedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "profile_id"}, {Name: "module_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"completion_percentage": percentage,
			"completion_status":     status,
			"completed_at":          completedAt,
			"updated_at":            now,
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, syncErr("upsert", "member_training_progress", err)
	}
	return s.TrainingProgress(ctx, profileID, moduleKey)
}

// Announcements 返回全局公告与该账号的定向公告。
func (s *GormStore) Announcements(ctx context.Context, accountID uint, limit int) ([]Announcement, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []database.Announcement
	if err := s.db.WithContext(ctx).
		Where("account_id IS NULL OR account_id = ?", accountID).
		Order("published_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]Announcement, 0, len(rows))
	for _, row := range rows {
		result = append(result, Announcement{
			ID:          row.ID,
			Title:       row.Title,
			Body:        row.Body,
			Metadata:    row.Metadata,
			PublishedAt: row.PublishedAt,
		})
	}
	return result, nil
}

func (s *GormStore) moduleTitle(ctx context.Context, moduleKey string) string {
	var module database.TrainingModule
	if err := s.db.WithContext(ctx).
		Where("module_key = ?", moduleKey).
		First(&module).Error; err != nil {
		return ""
	}
	return module.Title
}

// 每个实体一处映射，远端行结构变化只改这里。

func mapRowToAccount(row database.Account) *Account {
	status := row.SubscriptionStatus
	if status == "" {
		status = database.SubscriptionInactive
	}
	return &Account{
		ID:                 row.ID,
		Email:              row.Email,
		PharmacyName:       row.PharmacyName,
		Phone:              row.Phone,
		AddressLine:        row.AddressLine,
		City:               row.City,
		State:              row.State,
		Zip:                row.Zip,
		SubscriptionStatus: status,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func mapRowToProfile(row database.MemberProfile) *Profile {
	role := row.Role
	if role == "" {
		role = database.RolePharmacy
	}
	return &Profile{
		ID:        row.ID,
		AccountID: row.AccountID,
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Role:      role,
		Email:     row.Email,
		Phone:     row.Phone,
		Active:    row.Active,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func mapRowToResource(row database.StorageFileCatalog) *Resource {
	return &Resource{
		CatalogID:   row.ID,
		Path:        row.Path,
		DisplayName: row.DisplayName,
		ObjectKey:   row.ObjectKey,
		Category:    row.Category,
	}
}

func mapRowToTraining(row database.MemberTrainingProgress, title string) *TrainingProgress {
	status := row.CompletionStatus
	if status == "" {
		if row.StartedAt == nil {
			status = database.TrainingNotStarted
		} else {
			status = database.TrainingInProgress
		}
	}
	return &TrainingProgress{
		ProfileID:            row.ProfileID,
		ModuleKey:            row.ModuleKey,
		ModuleTitle:          title,
		CompletionPercentage: row.CompletionPercentage,
		CompletionStatus:     status,
		Attempts:             row.Attempts,
		StartedAt:            row.StartedAt,
		CompletedAt:          row.CompletedAt,
	}
}
