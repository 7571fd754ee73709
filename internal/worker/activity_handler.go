package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"rxportal/internal/errcode"
	"rxportal/internal/store"
	"rxportal/internal/tasks"
)

// 每个档案保留的访问日志上限；超出的旧行在追加后裁剪。
const activityRetention = 50

// ActivityTaskHandler 负责消费访问日志落库任务。
type ActivityTaskHandler struct {
	store       store.Store
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewActivityTaskHandler 创建任务处理器。
func NewActivityTaskHandler(st store.Store, redisClient *redis.Client, logger *slog.Logger) *ActivityTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityTaskHandler{
		store:       st,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ActivityTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.ActivityRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("profile_id", uint64(payload.ProfileID)),
		slog.String("resource_name", payload.ResourceName),
	)

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		notify := ActivityNotifyMessage{
			Status:        "error",
			ProfileID:     payload.ProfileID,
			ResourceName:  payload.ResourceName,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SyncFailed,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishNotify(ctx, payload.AccountID, notify); err != nil {
			log.Error("publish activity error notification failed", slog.Any("error", err))
		}
	}()

	accessedAt := payload.AccessedAt
	if accessedAt.IsZero() {
		accessedAt = time.Now()
	}

	if err := h.store.InsertActivity(ctx, payload.ProfileID, payload.ResourceName, accessedAt); err != nil {
		log.Error("insert recent activity failed", slog.Any("error", err))
		return err
	}

	if err := h.store.TrimActivity(ctx, payload.ProfileID, activityRetention); err != nil {
		// 裁剪失败不影响本条日志，下一条任务会再裁。
		log.Warn("trim recent activity failed", slog.Any("error", err))
	}

	notify := ActivityNotifyMessage{
		Status:        "recorded",
		ProfileID:     payload.ProfileID,
		ResourceName:  payload.ResourceName,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := h.publishNotify(ctx, payload.AccountID, notify); err != nil {
		log.Warn("publish activity notification failed", slog.Any("error", err))
	}

	log.Info("recent activity recorded")
	return nil
}

func (h *ActivityTaskHandler) publishNotify(ctx context.Context, accountID uint, message ActivityNotifyMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notify message: %w", err)
	}
	channel := fmt.Sprintf("portal_notify:%d", accountID)
	return h.redisClient.Publish(ctx, channel, payload).Err()
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
