package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/wfunc/werewolf-client/internal/config"
	apperrors "github.com/wfunc/werewolf-client/internal/errors"
	"github.com/wfunc/werewolf-client/internal/models"
	"go.uber.org/zap"
)

// Client REST接口客户端
// 所有响应统一为 {success, data, error} 信封，非2xx与网络错误折叠为请求错误
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient 创建REST客户端
func NewClient(cfg *config.APIConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// SetToken 设置认证令牌
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// ClearToken 清除认证令牌
func (c *Client) ClearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

// Token 当前持有的令牌
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// request 发送请求并解析响应信封
func (c *Client) request(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrInvalidParam, "请求序列化失败")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrRequestFailed)
	}

	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("请求发送失败",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return apperrors.Wrap(err, apperrors.ErrRequestFailed, endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrBadResponse, endpoint)
	}

	var envelope models.APIResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		// 响应体不是信封格式时退化为状态码错误
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apperrors.Newf(apperrors.ErrRequestFailed, "HTTP %d: %s", resp.StatusCode, resp.Status)
		}
		return apperrors.Wrap(err, apperrors.ErrBadResponse, endpoint)
	}

	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = envelope.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		c.logger.Warn("请求被拒绝",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("error", msg))
		return apperrors.New(apperrors.ErrRequestRejected, msg)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return apperrors.Wrap(err, apperrors.ErrBadResponse, endpoint)
		}
	}

	return nil
}

// Login 用户登录
func (c *Client) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	var result models.LoginResponse
	if err := c.request(ctx, http.MethodPost, "/auth/login", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Register 用户注册
func (c *Client) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	var result models.User
	if err := c.request(ctx, http.MethodPost, "/auth/register", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CurrentUser 获取当前用户信息
func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	var result models.User
	if err := c.request(ctx, http.MethodGet, "/auth/me", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout 退出登录
func (c *Client) Logout(ctx context.Context) error {
	err := c.request(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.ClearToken()
	return err
}

// Rooms 获取房间列表
func (c *Client) Rooms(ctx context.Context) ([]models.GameRoom, error) {
	var result []models.GameRoom
	if err := c.request(ctx, http.MethodGet, "/rooms", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Room 获取单个房间
func (c *Client) Room(ctx context.Context, roomID string) (*models.GameRoom, error) {
	var result models.GameRoom
	if err := c.request(ctx, http.MethodGet, "/rooms/"+roomID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateRoom 创建房间
func (c *Client) CreateRoom(ctx context.Context, req *models.CreateRoomRequest) (*models.GameRoom, error) {
	var result models.GameRoom
	if err := c.request(ctx, http.MethodPost, "/rooms", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// JoinRoom 加入房间
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.request(ctx, http.MethodPost, "/rooms/"+roomID+"/join", nil, nil)
}

// LeaveRoom 离开房间
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.request(ctx, http.MethodPost, "/rooms/"+roomID+"/leave", nil, nil)
}

// StartGame 开始游戏
func (c *Client) StartGame(ctx context.Context, roomID string) error {
	return c.request(ctx, http.MethodPost, "/rooms/"+roomID+"/start", nil, nil)
}

// Health 健康检查
func (c *Client) Health(ctx context.Context) (*models.HealthStatus, error) {
	var result models.HealthStatus
	if err := c.request(ctx, http.MethodGet, "/health", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
