package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"rxportal/internal/auth"
	"rxportal/internal/errcode"
	"rxportal/internal/session"
	"rxportal/internal/store"
)

const (
	loginRateKeyPrefix = "rate:login:"
	loginLockKeyPrefix = "lock:login:"
	loginFailKeyPrefix = "lock:login:fail:"
)

// AuthHandler 处理登录、登出、会话检查与账号资料更新。
type AuthHandler struct {
	store                 store.Store
	tokens                *auth.SessionService
	records               session.RecordStore
	registry              *stateRegistry
	redis                 redis.UniversalClient
	logger                *slog.Logger
	loginRateLimitPerHour int
	loginLockThreshold    int
	loginLockTTL          time.Duration
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(
	st store.Store,
	tokens *auth.SessionService,
	records session.RecordStore,
	registry *stateRegistry,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
	loginRateLimitPerHour int,
	loginLockThreshold int,
	loginLockTTL time.Duration,
) *AuthHandler {
	return &AuthHandler{
		store:                 st,
		tokens:                tokens,
		records:               records,
		registry:              registry,
		redis:                 redisClient,
		logger:                logger,
		loginRateLimitPerHour: loginRateLimitPerHour,
		loginLockThreshold:    loginLockThreshold,
		loginLockTTL:          loginLockTTL,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	Initialized   bool           `json:"initialized"`
	State         string         `json:"state"`
	Account       *accountView   `json:"account"`
	ActiveProfile *store.Profile `json:"active_profile"`
}

type accountView struct {
	ID                 uint   `json:"id"`
	Email              string `json:"email"`
	PharmacyName       string `json:"pharmacy_name"`
	Phone              string `json:"phone"`
	AddressLine        string `json:"address_line"`
	City               string `json:"city"`
	State              string `json:"state"`
	Zip                string `json:"zip"`
	SubscriptionStatus string `json:"subscription_status"`
}

func newAccountView(a *store.Account) *accountView {
	if a == nil {
		return nil
	}
	return &accountView{
		ID:                 a.ID,
		Email:              a.Email,
		PharmacyName:       a.PharmacyName,
		Phone:              a.Phone,
		AddressLine:        a.AddressLine,
		City:               a.City,
		State:              a.State,
		Zip:                a.Zip,
		SubscriptionStatus: a.SubscriptionStatus,
	}
}

func sessionView(st *portalState) sessionResponse {
	return sessionResponse{
		Initialized:   st.manager.Initialized(),
		State:         st.manager.State().String(),
		Account:       newAccountView(st.manager.Account()),
		ActiveProfile: st.directory.CurrentProfile(),
	}
}

// Login 校验凭证并建立会话。失败过多会触发账号级临时锁定。
func (h *AuthHandler) Login(c *gin.Context) {
	ip := c.ClientIP()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := loggerFromContext(c, h.logger).With(slog.String("email", email))

	// 速率限制：每 IP+邮箱 每小时 N 次
	rateKey := loginRateKeyPrefix + ip + ":" + email + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		count = 0
	}
	if count > int64(h.loginRateLimitPerHour) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	// 锁定检查
	if ttl, _ := h.redis.TTL(ctx, loginLockKeyPrefix+email).Result(); ttl > 0 {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "account temporarily locked"})
		return
	}

	manager := session.NewManager(h.store, h.tokens, h.records, h.logger)
	token, err := manager.Login(ctx, email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrAuthentication) {
			logger.Info("login failed: invalid credentials")
			_ = h.incrementLoginFail(ctx, email)
			ErrorCode(c, http.StatusUnauthorized, errcode.AuthFailed, "invalid email or password")
			return
		}
		logger.Error("login failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	// 登录成功：清理失败计数
	_ = h.redis.Del(ctx, loginFailKeyPrefix+email).Err()

	st := h.registry.adopt(ctx, manager)
	if st == nil {
		logger.Error("adopt session state failed: empty session id")
		Internal(c, "internal error")
		return
	}

	logger.Info("login succeeded", slog.String("session_id", manager.SessionID()))
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(h.tokens.SessionTTL().Seconds()),
		"session":    sessionView(st),
	})
}

func (h *AuthHandler) incrementLoginFail(ctx context.Context, email string) error {
	fails, err := incrWithTTL(ctx, h.redis, loginFailKeyPrefix+email, h.loginLockTTL)
	if err != nil {
		return err
	}
	if fails >= int64(h.loginLockThreshold) {
		return h.redis.Set(ctx, loginLockKeyPrefix+email, "locked", h.loginLockTTL).Err()
	}
	return nil
}

// Logout 本地优先登出：远端撤销失败也会清掉本地状态并成功返回。
func (h *AuthHandler) Logout(c *gin.Context) {
	sessionID, ok := sessionIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	st := h.registry.get(ctx, sessionID)
	st.manager.Logout(ctx)
	h.registry.drop(sessionID)

	loggerFromContext(c, h.logger).Info("logout completed",
		slog.String("session_id", sessionID),
	)
	c.Status(http.StatusNoContent)
}

// GetSession 执行一次会话检查并返回当前会话视图。
// 检查完成后 initialized 恒为 true，哪怕后端瞬时故障。
func (h *AuthHandler) GetSession(c *gin.Context) {
	sessionID, ok := sessionIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	st := h.registry.get(ctx, sessionID)
	st.manager.CheckSession(ctx)

	c.JSON(http.StatusOK, sessionView(st))
}

type accountPatchRequest struct {
	PharmacyName *string `json:"pharmacy_name"`
	Phone        *string `json:"phone"`
	AddressLine  *string `json:"address_line"`
	City         *string `json:"city"`
	State        *string `json:"state"`
	Zip          *string `json:"zip"`
}

// UpdateAccount 对当前账号做部分更新；无活动会话时返回 JSON null。
func (h *AuthHandler) UpdateAccount(c *gin.Context) {
	sessionID, ok := sessionIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req accountPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	st := h.registry.get(ctx, sessionID)

	updated, err := st.manager.UpdateAccount(ctx, store.AccountPatch{
		PharmacyName: req.PharmacyName,
		Phone:        req.Phone,
		AddressLine:  req.AddressLine,
		City:         req.City,
		State:        req.State,
		Zip:          req.Zip,
	})
	if err != nil {
		loggerFromContext(c, h.logger).Error("update account failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SyncFailed, "account update failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": newAccountView(updated)})
}
