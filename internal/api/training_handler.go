package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rxportal/internal/errcode"
)

// TrainingHandler 处理培训模块的进度工作流。
type TrainingHandler struct {
	registry *stateRegistry
	logger   *slog.Logger
}

// NewTrainingHandler 构造培训处理器。
func NewTrainingHandler(registry *stateRegistry, logger *slog.Logger) *TrainingHandler {
	return &TrainingHandler{registry: registry, logger: logger}
}

func (h *TrainingHandler) state(c *gin.Context) (*portalState, bool) {
	sessionID, ok := sessionIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	return h.registry.get(c.Request.Context(), sessionID), true
}

func moduleKeyParam(c *gin.Context) (string, bool) {
	key := strings.TrimSpace(c.Param("module"))
	if key == "" {
		BadRequest(c, "module key is required")
		return "", false
	}
	return key, true
}

// List 返回当前档案的全部培训进度（含模块名称）。
func (h *TrainingHandler) List(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}

	progress, err := st.cache.Training.ProfileProgress(c.Request.Context(), profileID)
	if err != nil {
		loggerFromContext(c, h.logger).Error("load training progress failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "training load failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"training": progress})
}

// Get 返回单个模块的进度；尚无进度行时返回 JSON null。
func (h *TrainingHandler) Get(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}
	moduleKey, ok := moduleKeyParam(c)
	if !ok {
		return
	}

	progress, err := st.cache.Training.ModuleProgress(c.Request.Context(), profileID, moduleKey)
	if err != nil {
		loggerFromContext(c, h.logger).Error("load module progress failed",
			slog.String("module", moduleKey),
			slog.Any("error", err),
		)
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "training load failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

// Start 开始模块。重复调用幂等：递增 attempts，绝不清零已有进度。
func (h *TrainingHandler) Start(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}
	moduleKey, ok := moduleKeyParam(c)
	if !ok {
		return
	}

	progress, err := st.cache.Training.Start(c.Request.Context(), profileID, moduleKey)
	if err != nil {
		loggerFromContext(c, h.logger).Error("start training module failed",
			slog.String("module", moduleKey),
			slog.Any("error", err),
		)
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "training start failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

// Restart 显式重新开始：清零进度。这是唯一的破坏性入口。
func (h *TrainingHandler) Restart(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}
	moduleKey, ok := moduleKeyParam(c)
	if !ok {
		return
	}

	progress, err := st.cache.Training.Restart(c.Request.Context(), profileID, moduleKey)
	if err != nil {
		loggerFromContext(c, h.logger).Error("restart training module failed",
			slog.String("module", moduleKey),
			slog.Any("error", err),
		)
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "training restart failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

type progressRequest struct {
	Percentage int  `json:"percentage"`
	Completed  bool `json:"completed"`
}

// UpdateProgress 更新完成百分比（钳制到 [0,100]；已完成的模块为终态）。
func (h *TrainingHandler) UpdateProgress(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}
	moduleKey, ok := moduleKeyParam(c)
	if !ok {
		return
	}

	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	progress, err := st.cache.Training.UpdateProgress(c.Request.Context(), profileID, moduleKey, req.Percentage, req.Completed)
	if err != nil {
		loggerFromContext(c, h.logger).Error("update training progress failed",
			slog.String("module", moduleKey),
			slog.Any("error", err),
		)
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "training update failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

// Complete 把模块标记为完成。
func (h *TrainingHandler) Complete(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	profileID, ok := activeProfileID(c, st)
	if !ok {
		return
	}
	moduleKey, ok := moduleKeyParam(c)
	if !ok {
		return
	}

	progress, err := st.cache.Training.Complete(c.Request.Context(), profileID, moduleKey)
	if err != nil {
		loggerFromContext(c, h.logger).Error("complete training module failed",
			slog.String("module", moduleKey),
			slog.Any("error", err),
		)
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "training completion failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}
