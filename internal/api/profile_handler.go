package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rxportal/internal/errcode"
	"rxportal/internal/profile"
	"rxportal/internal/store"
)

// ProfileHandler 处理员工档案的增删改查与“当前档案”切换。
type ProfileHandler struct {
	registry *stateRegistry
	logger   *slog.Logger
}

// NewProfileHandler 构造档案处理器。
func NewProfileHandler(registry *stateRegistry, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{registry: registry, logger: logger}
}

func (h *ProfileHandler) state(c *gin.Context) (*portalState, bool) {
	sessionID, ok := sessionIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	return h.registry.get(c.Request.Context(), sessionID), true
}

func profileIDParam(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		BadRequest(c, "invalid profile id")
		return 0, false
	}
	return uint(id), true
}

// List 返回账号的全部档案（内存集合副本）。
func (h *ProfileHandler) List(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": st.directory.Profiles()})
}

type newProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Create 新建档案。角色、名、姓不能全空。
func (h *ProfileHandler) Create(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}

	var req newProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	account := st.manager.Account()
	if account == nil {
		AbortUnauthorized(c)
		return
	}

	created, err := st.directory.AddProfile(c.Request.Context(), store.NewProfile{
		AccountID: account.ID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		if errors.Is(err, profile.ErrIdentityRequired) {
			ErrorCode(c, http.StatusBadRequest, errcode.ValidationFailed, err.Error())
			return
		}
		loggerFromContext(c, h.logger).Error("create profile failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "profile creation failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"profile": created})
}

type profilePatchRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Role      *string `json:"role"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Active    *bool   `json:"active"`
}

// Update 对档案做部分更新。
func (h *ProfileHandler) Update(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	id, ok := profileIDParam(c)
	if !ok {
		return
	}

	var req profilePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	updated, err := st.directory.UpdateProfile(c.Request.Context(), id, store.ProfilePatch{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		Email:     req.Email,
		Phone:     req.Phone,
		Active:    req.Active,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, "profile not found")
			return
		}
		loggerFromContext(c, h.logger).Error("update profile failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "profile update failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": updated})
}

// Delete 删除档案；Pharmacy 哨兵档案受保护。
func (h *ProfileHandler) Delete(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	id, ok := profileIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	wasCurrent := st.directory.CurrentProfileID() == id

	if err := st.directory.DeleteProfile(ctx, id); err != nil {
		if errors.Is(err, profile.ErrDefaultProfileProtected) {
			Forbidden(c, err.Error())
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, "profile not found")
			return
		}
		loggerFromContext(c, h.logger).Error("delete profile failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "profile deletion failed")
		return
	}

	if wasCurrent {
		st.cache.SwitchProfile(ctx, 0)
	}
	c.Status(http.StatusNoContent)
}

// GetActive 返回当前档案；未选择时返回 JSON null。
func (h *ProfileHandler) GetActive(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": st.directory.CurrentProfile()})
}

type setActiveRequest struct {
	ProfileID uint `json:"profile_id" binding:"required"`
}

// SetActive 切换当前档案，并随之重建档案级活动缓存。
func (h *ProfileHandler) SetActive(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}

	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	target := st.directory.ProfileByID(req.ProfileID)
	if target == nil {
		ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, "profile not found")
		return
	}

	ctx := c.Request.Context()
	st.directory.SetCurrentProfile(ctx, target)
	st.cache.SwitchProfile(ctx, target.ID)

	c.JSON(http.StatusOK, gin.H{"profile": st.directory.CurrentProfile()})
}

// ClearActive 取消档案选择并清空档案级缓存。
func (h *ProfileHandler) ClearActive(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	st.directory.SetCurrentProfile(ctx, nil)
	st.cache.SwitchProfile(ctx, 0)
	c.Status(http.StatusNoContent)
}

// RefreshActive 按 ID 重新拉取当前档案，防止其他入口编辑后本地副本过期。
func (h *ProfileHandler) RefreshActive(c *gin.Context) {
	st, ok := h.state(c)
	if !ok {
		return
	}

	fresh, err := st.directory.RefreshCurrentProfile(c.Request.Context())
	if err != nil {
		loggerFromContext(c, h.logger).Error("refresh active profile failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "profile refresh failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": fresh})
}
