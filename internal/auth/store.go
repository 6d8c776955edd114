package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wfunc/werewolf-client/internal/api"
	apperrors "github.com/wfunc/werewolf-client/internal/errors"
	"github.com/wfunc/werewolf-client/internal/models"
	"github.com/wfunc/werewolf-client/internal/repository"
	"go.uber.org/zap"
)

// Disconnector 退出登录时需要断开的连接
type Disconnector interface {
	Disconnect()
}

// Store 身份认证状态
// 凭证令牌通过仓储持久化，重启后可恢复会话
type Store struct {
	api    *api.Client
	creds  repository.CredentialRepository
	socket Disconnector
	logger *zap.Logger

	mu            sync.RWMutex
	user          *models.User
	token         string
	authenticated bool
	lastError     string
}

// NewStore 创建认证状态存储
// socket可以为nil，此时退出登录不做连接断开
func NewStore(apiClient *api.Client, creds repository.CredentialRepository, socket Disconnector, logger *zap.Logger) *Store {
	return &Store{
		api:    apiClient,
		creds:  creds,
		socket: socket,
		logger: logger,
	}
}

// Init 从持久化凭证恢复会话
// 令牌已过期或服务端校验失败时清除本地凭证
func (s *Store) Init(ctx context.Context) error {
	cred, err := s.creds.Load(ctx)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}

	if tokenExpired(cred.Token) {
		s.logger.Info("持久化令牌已过期，清除本地凭证",
			zap.String("username", cred.Username))
		return s.creds.Clear(ctx)
	}

	s.mu.Lock()
	s.token = cred.Token
	s.mu.Unlock()
	s.api.SetToken(cred.Token)

	user, err := s.api.CurrentUser(ctx)
	if err != nil {
		// 令牌可能已在服务端失效
		s.logger.Warn("恢复会话失败，清除本地凭证", zap.Error(err))
		s.Logout(ctx)
		return nil
	}

	s.mu.Lock()
	s.user = user
	s.authenticated = true
	s.mu.Unlock()

	s.logger.Info("会话已恢复", zap.String("username", user.Username))
	return nil
}

// Login 用户登录，成功后持久化凭证
func (s *Store) Login(ctx context.Context, username, password string) error {
	s.setError("")

	resp, err := s.api.Login(ctx, &models.LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		s.setError(err.Error())
		return apperrors.Wrap(err, apperrors.ErrAuthentication)
	}

	s.mu.Lock()
	s.user = &resp.User
	s.token = resp.Token
	s.authenticated = true
	s.mu.Unlock()

	s.api.SetToken(resp.Token)

	if err := s.creds.Save(ctx, &models.Credential{
		UserID:   resp.User.ID,
		Username: resp.User.Username,
		Token:    resp.Token,
	}); err != nil {
		// 持久化失败不影响本次会话
		s.logger.Warn("凭证持久化失败", zap.Error(err))
	}

	s.logger.Info("登录成功", zap.String("username", resp.User.Username))
	return nil
}

// Register 注册新用户，成功后使用相同凭证登录
func (s *Store) Register(ctx context.Context, req *models.RegisterRequest) error {
	s.setError("")

	if _, err := s.api.Register(ctx, req); err != nil {
		s.setError(err.Error())
		return apperrors.Wrap(err, apperrors.ErrAuthentication)
	}

	return s.Login(ctx, req.Username, req.Password)
}

// Logout 退出登录：断开连接、通知服务端（尽力而为）、清除本地状态与凭证
func (s *Store) Logout(ctx context.Context) {
	if s.socket != nil {
		s.socket.Disconnect()
	}

	s.mu.RLock()
	hasToken := s.token != ""
	s.mu.RUnlock()

	if hasToken {
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Warn("退出登录请求失败", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.authenticated = false
	s.lastError = ""
	s.mu.Unlock()

	s.api.ClearToken()

	if err := s.creds.Clear(ctx); err != nil {
		s.logger.Warn("清除凭证失败", zap.Error(err))
	}
}

// User 当前用户
func (s *Store) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Token 当前令牌
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated 是否已认证
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated && s.user != nil
}

// UserID 当前用户ID，未登录时为空串
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// UserName 展示名，优先显示名，其次用户名
func (s *Store) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	if s.user.DisplayName != "" {
		return s.user.DisplayName
	}
	return s.user.Username
}

// Error 最近一次认证错误
func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// setError 记录认证错误
func (s *Store) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
}

// tokenExpired 检查JWT令牌是否已过期
// 非JWT格式的不透明令牌视为未过期，由服务端校验兜底
func tokenExpired(token string) bool {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(time.Now())
}
