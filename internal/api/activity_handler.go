package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"rxportal/internal/activity"
	"rxportal/internal/api/middleware"
	"rxportal/internal/errcode"
	"rxportal/internal/store"
	"rxportal/internal/tasks"
)

const defaultRecentLimit = 10

// ActivityHandler 处理收藏与最近访问：收藏走档案级缓存，
// 访问日志经队列异步落库。
type ActivityHandler struct {
	registry    *stateRegistry
	store       store.Store
	asynqClient *asynq.Client
	logger      *slog.Logger
}

// NewActivityHandler 构造活动处理器。
func NewActivityHandler(registry *stateRegistry, st store.Store, asynqClient *asynq.Client, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{
		registry:    registry,
		store:       st,
		asynqClient: asynqClient,
		logger:      logger,
	}
}

func (h *ActivityHandler) state(c *gin.Context) (*portalState, bool) {
	sessionID, ok := sessionIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	return h.registry.get(c.Request.Context(), sessionID), true
}

// activeProfileID 解析当前档案 ID；未选择档案的档案级操作直接拒绝。
func activeProfileID(c *gin.Context, st *portalState) (uint, bool) {
	id := st.directory.CurrentProfileID()
	if id == 0 {
		ErrorCode(c, http.StatusBadRequest, errcode.ValidationFailed, "no active profile selected")
		return 0, false
	}
	return id, true
}

// ListBookmarks 返回当前档案的收藏（join 资源目录，按收藏时间倒序）。
func (h *ActivityHandler) ListBookmarks(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}

	entries, err := h.store.BookmarksWithResources(c.Request.Context(), profileID)
	if err != nil {
		loggerFromContext(c, h.logger).Error("load bookmarks failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "bookmark load failed")
		return
	}
	if entries == nil {
		entries = []store.BookmarkEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"bookmarks": entries})
}

// BookmarkStatus 同步回答路径是否已收藏。ready 为 false 时 bookmarked
// 的 false 表示“尚未可知”。
func (h *ActivityHandler) BookmarkStatus(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}

	path := strings.TrimSpace(c.Query("path"))
	if path == "" {
		BadRequest(c, "path is required")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookmarked": st.cache.Bookmarks.IsBookmarked(path),
		"ready":      st.cache.Bookmarks.Ready(),
	})
}

type toggleBookmarkRequest struct {
	Path      string `json:"path" binding:"required"`
	CatalogID uint   `json:"catalog_id"`
}

// ToggleBookmark 翻转 (当前档案, 资源) 的收藏状态。
func (h *ActivityHandler) ToggleBookmark(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}

	var req toggleBookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	bookmarked, err := st.cache.Bookmarks.Toggle(c.Request.Context(), profileID, activity.Resource{
		Path:      req.Path,
		CatalogID: req.CatalogID,
	})
	if err != nil {
		if errors.Is(err, activity.ErrResourceNotFound) {
			ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, err.Error())
			return
		}
		loggerFromContext(c, h.logger).Error("toggle bookmark failed",
			slog.String("path", req.Path),
			slog.Any("error", err),
		)
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "bookmark sync failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookmarked": bookmarked})
}

type recordActivityRequest struct {
	ResourceName string `json:"resource_name" binding:"required"`
}

// RecordActivity 将一次资源访问入队异步落库，立即返回 202。
func (h *ActivityHandler) RecordActivity(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}
	accountID, _ := accountIDFromContext(c)

	var req recordActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	task, err := tasks.NewActivityRecordTask(
		accountID,
		profileID,
		req.ResourceName,
		time.Now(),
		middleware.GetCorrelationID(c),
	)
	if err != nil {
		loggerFromContext(c, h.logger).Error("build activity task failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if _, err := h.asynqClient.EnqueueContext(c.Request.Context(), task); err != nil {
		loggerFromContext(c, h.logger).Error("enqueue activity task failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "activity enqueue failed")
		return
	}

	c.Status(http.StatusAccepted)
}

// RecentActivity 返回当前档案最近的访问日志。
func (h *ActivityHandler) RecentActivity(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}

	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 50 {
			BadRequest(c, "limit must be between 1 and 50")
			return
		}
		limit = parsed
	}

	entries, err := st.cache.Recent.Latest(c.Request.Context(), profileID, limit)
	if err != nil {
		loggerFromContext(c, h.logger).Error("load recent activity failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "recent activity load failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries})
}
