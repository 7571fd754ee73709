package activity

import (
	"context"
	"errors"
	"time"

	"rxportal/internal/database"
	"rxportal/internal/store"
)

// Training 是针对远端存储的培训进度工作流，每个 (档案, 模块) 一台小状态机：
// not_started（无行或无开始时间）→ in_progress → completed（终态，百分比强制 100）。
type Training struct {
	store store.Store
}

// NewTraining 构造 Training。
func NewTraining(st store.Store) *Training {
	return &Training{store: st}
}

// Start 开始一个培训模块。幂等 upsert：重复调用递增 attempts、补齐缺失的
// 开始时间，但绝不清零已有进度——页面重访不会悄悄丢弃完成度。
func (t *Training) Start(ctx context.Context, profileID uint, moduleKey string) (*store.TrainingProgress, error) {
	return t.store.UpsertTrainingStart(ctx, profileID, moduleKey, time.Now())
}

// Restart 显式重新开始：清零百分比并重置状态。这是唯一的破坏性入口。
func (t *Training) Restart(ctx context.Context, profileID uint, moduleKey string) (*store.TrainingProgress, error) {
	return t.store.UpsertTrainingRestart(ctx, profileID, moduleKey, time.Now())
}

// UpdateProgress 更新完成百分比，钳制到 [0,100]。
// 百分比到 100 或 completed 为 true 时进入终态并盖上完成时间戳；
// 已完成的模块不再接受更新（终态）。
func (t *Training) UpdateProgress(ctx context.Context, profileID uint, moduleKey string, percentage int, completed bool) (*store.TrainingProgress, error) {
	existing, err := t.ModuleProgress(ctx, profileID, moduleKey)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.CompletionStatus == database.TrainingCompleted {
		return existing, nil
	}

	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	status := database.TrainingInProgress
	var completedAt *time.Time
	if completed || percentage == 100 {
		percentage = 100
		status = database.TrainingCompleted
		now := time.Now()
		completedAt = &now
	}

	return t.store.UpsertTrainingProgress(ctx, profileID, moduleKey, percentage, status, completedAt)
}

// Complete 把模块标记为完成，等价于 UpdateProgress(..., 100, true)。
func (t *Training) Complete(ctx context.Context, profileID uint, moduleKey string) (*store.TrainingProgress, error) {
	return t.UpdateProgress(ctx, profileID, moduleKey, 100, true)
}

// ModuleProgress 返回模块进度；没有进度行时返回 (nil, nil)——
// “尚无进度”是合法答案，不是错误。
func (t *Training) ModuleProgress(ctx context.Context, profileID uint, moduleKey string) (*store.TrainingProgress, error) {
	progress, err := t.store.TrainingProgress(ctx, profileID, moduleKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return progress, nil
}

// ProfileProgress 返回档案的全部培训进度（含模块名称）。
func (t *Training) ProfileProgress(ctx context.Context, profileID uint) ([]store.TrainingProgress, error) {
	return t.store.TrainingProgressByProfile(ctx, profileID)
}
