package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"rxportal/internal/api/middleware"
	"rxportal/internal/errcode"
	"rxportal/internal/storage"
	"rxportal/internal/store"
	"rxportal/internal/tasks"
)

const downloadLinkTTL = 5 * time.Minute

// ResourceHandler 暴露资源目录与限时下载链接。
type ResourceHandler struct {
	store       store.Store
	storage     *storage.Client
	registry    *stateRegistry
	asynqClient *asynq.Client
	logger      *slog.Logger
}

// NewResourceHandler 构造资源处理器。
func NewResourceHandler(
	st store.Store,
	storageClient *storage.Client,
	registry *stateRegistry,
	asynqClient *asynq.Client,
	logger *slog.Logger,
) *ResourceHandler {
	return &ResourceHandler{
		store:       st,
		storage:     storageClient,
		registry:    registry,
		asynqClient: asynqClient,
		logger:      logger,
	}
}

// List 返回资源目录全量清单（目录规模有限，不分页）。
func (h *ResourceHandler) List(c *gin.Context) {
	resources, err := h.store.Resources(c.Request.Context())
	if err != nil {
		loggerFromContext(c, h.logger).Error("load resource catalog failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "resource catalog load failed")
		return
	}
	if resources == nil {
		resources = []store.Resource{}
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}

// DownloadLink 为目录中的资源生成限时下载链接，并顺带把这次访问
// 入队记入最近访问（尽力而为，入队失败不影响下载）。
func (h *ResourceHandler) DownloadLink(c *gin.Context) {
	path := strings.TrimSpace(c.Query("path"))
	if path == "" {
		BadRequest(c, "path is required")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.String("path", path))

	resource, err := h.store.ResourceByPath(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, "resource not found")
			return
		}
		logger.Error("resolve resource failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "resource lookup failed")
		return
	}

	exists, err := h.storage.ObjectExists(ctx, resource.ObjectKey)
	if err != nil {
		logger.Error("stat resource object failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if !exists {
		logger.Warn("catalog entry points at missing object", slog.String("object_key", resource.ObjectKey))
		ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, "resource object missing")
		return
	}

	url, err := h.storage.GeneratePresignedURL(ctx, resource.ObjectKey, downloadLinkTTL)
	if err != nil {
		logger.Error("generate download link failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.recordAccess(c, resource.DisplayName)

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_in": int(downloadLinkTTL.Seconds()),
	})
}

// recordAccess 尽力而为地把本次下载记入最近访问。没有选中档案就跳过。
func (h *ResourceHandler) recordAccess(c *gin.Context, resourceName string) {
	sessionID, ok := sessionIDFromContext(c)
	if !ok {
		return
	}
	accountID, _ := accountIDFromContext(c)

	ctx := c.Request.Context()
	st := h.registry.get(ctx, sessionID)
	profileID := st.directory.CurrentProfileID()
	if profileID == 0 {
		return
	}

	task, err := tasks.NewActivityRecordTask(
		accountID,
		profileID,
		resourceName,
		time.Now(),
		middleware.GetCorrelationID(c),
	)
	if err != nil {
		loggerFromContext(c, h.logger).Warn("build activity task failed", slog.Any("error", err))
		return
	}
	if _, err := h.asynqClient.EnqueueContext(ctx, task); err != nil {
		loggerFromContext(c, h.logger).Warn("enqueue activity task failed", slog.Any("error", err))
	}
}
