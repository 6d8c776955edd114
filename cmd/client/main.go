package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/werewolf-client/internal/api"
	"github.com/wfunc/werewolf-client/internal/auth"
	"github.com/wfunc/werewolf-client/internal/config"
	"github.com/wfunc/werewolf-client/internal/database"
	"github.com/wfunc/werewolf-client/internal/game"
	"github.com/wfunc/werewolf-client/internal/logger"
	"github.com/wfunc/werewolf-client/internal/repository"
	"github.com/wfunc/werewolf-client/internal/transport"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Client 客户端实例
type Client struct {
	cfg    *config.Config
	logger *zap.Logger

	apiClient *api.Client
	adapter   *transport.Adapter
	authStore *auth.Store
	gameStore *game.Store

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	client := NewClient(cfg)

	if err := client.Start(); err != nil {
		logger.Fatal("客户端启动失败", zap.Error(err))
	}

	client.WaitForShutdown()

	client.Shutdown()
	logger.Info("客户端已退出")
}

// NewClient 创建客户端实例
func NewClient(cfg *config.Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动客户端：初始化组件、恢复或建立会话、按配置加入房间
func (c *Client) Start() error {
	c.logger.Info("正在启动狼人杀客户端...",
		zap.String("version", Version),
		zap.String("api", c.cfg.API.BaseURL))

	// 本地凭证存储
	db, err := database.Open(&c.cfg.Storage)
	if err != nil {
		return err
	}
	creds := repository.NewCredentialRepository(db)

	// 组件装配
	c.apiClient = api.NewClient(&c.cfg.API, logger.GetModuleLogger("api"))
	c.adapter = transport.NewAdapter(&c.cfg.WebSocket, logger.GetModuleLogger("transport"))
	c.authStore = auth.NewStore(c.apiClient, creds, c.adapter, logger.GetModuleLogger("auth"))
	c.gameStore = game.NewStore(c.apiClient, c.adapter, c.authStore,
		game.Options{ToastDuration: c.cfg.Game.ToastDuration},
		logger.GetModuleLogger("game"))

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		c.logger.Info("配置已更新")
	})

	// 恢复持久化会话
	if err := c.authStore.Init(c.ctx); err != nil {
		c.logger.Warn("恢复会话失败", zap.Error(err))
	}

	// 未恢复成功时使用配置凭证登录
	if !c.authStore.IsAuthenticated() {
		if c.cfg.Session.Username == "" {
			return fmt.Errorf("未登录且配置中没有凭证，请配置 session.username / session.password")
		}
		if err := c.authStore.Login(c.ctx, c.cfg.Session.Username, c.cfg.Session.Password); err != nil {
			return err
		}
	}

	c.logger.Info("已登录", zap.String("user", c.authStore.UserName()))

	// 按配置加入房间
	if c.cfg.Session.RoomID != "" {
		joinCtx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		defer cancel()
		if err := c.gameStore.JoinRoom(joinCtx, c.cfg.Session.RoomID); err != nil {
			return err
		}
		c.logger.Info("已进入房间",
			zap.String("room_id", c.cfg.Session.RoomID),
			zap.Int("players", len(c.gameStore.Players())))
	}

	return nil
}

// WaitForShutdown 等待退出信号
// SIGHUP触发一次手动重连，SIGINT/SIGTERM退出
func (c *Client) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			c.logger.Info("收到SIGHUP，尝试重连")
			c.adapter.Nudge()
		default:
			c.logger.Info("收到退出信号", zap.String("signal", sig.String()))
			return
		}
	}
}

// Shutdown 优雅关闭：离开房间、断开连接、刷新日志
func (c *Client) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.gameStore != nil && c.gameStore.IsInRoom() {
		c.gameStore.LeaveRoom(shutdownCtx)
	}

	if c.adapter != nil {
		c.adapter.Close()
	}

	c.cancel()

	if err := logger.Sync(); err != nil {
		fmt.Printf("日志刷新失败: %v\n", err)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("狼人杀客户端\n")
	fmt.Printf("版本:     %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交:  %s\n", GitCommit)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Printf("狼人杀客户端\n\n")
	fmt.Printf("用法:\n")
	fmt.Printf("  client [选项]\n\n")
	fmt.Printf("选项:\n")
	fmt.Printf("  -config <路径>  配置文件路径\n")
	fmt.Printf("  -version        显示版本信息\n")
	fmt.Printf("  -help           显示帮助信息\n\n")
	fmt.Printf("信号:\n")
	fmt.Printf("  SIGHUP          断线后立即尝试重连\n")
	fmt.Printf("  SIGINT/SIGTERM  离开房间并退出\n")
}
