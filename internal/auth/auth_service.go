package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionService 负责签发与校验会话令牌（HS256）。
// jti 即会话 ID，用于在 Redis 中定位会话记录。
type SessionService struct {
	secret     []byte
	sessionTTL time.Duration
}

// SessionClaims 表示令牌中的业务字段。
type SessionClaims struct {
	AccountID uint `json:"account_id"`
	jwt.RegisteredClaims
}

// NewSessionService 构造会话令牌服务。secret 缺失视为启动致命错误。
func NewSessionService(secret string, sessionTTL time.Duration) (*SessionService, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	if sessionTTL <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &SessionService{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
	}, nil
}

// IssueToken 为账号签发新会话令牌，返回令牌与会话 ID。
func (s *SessionService) IssueToken(accountID uint) (token string, sessionID string, err error) {
	now := time.Now()
	sessionID = uuid.NewString()

	claims := SessionClaims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(accountID), 10),
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, sessionID, nil
}

// ValidateToken 解析并验证会话令牌。
func (s *SessionService) ValidateToken(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ID == "" {
		return nil, errors.New("token missing session id")
	}

	return claims, nil
}

// SessionTTL 暴露会话有效期。
func (s *SessionService) SessionTTL() time.Duration {
	return s.sessionTTL
}
