package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Session   SessionConfig   `mapstructure:"session"`
	Game      GameConfig      `mapstructure:"game"`
	Log       LogConfig       `mapstructure:"log"`
}

// APIConfig REST接口配置
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WebSocketConfig WebSocket连接配置
type WebSocketConfig struct {
	URL               string          `mapstructure:"url"`
	HandshakeTimeout  time.Duration   `mapstructure:"handshake_timeout"`
	PingInterval      time.Duration   `mapstructure:"ping_interval"`
	PongTimeout       time.Duration   `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration   `mapstructure:"write_timeout"`
	ReadBufferSize    int             `mapstructure:"read_buffer_size"`
	WriteBufferSize   int             `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64           `mapstructure:"max_message_size"`
	SendBufferSize    int             `mapstructure:"send_buffer_size"`
	EnableCompression bool            `mapstructure:"enable_compression"`
	Reconnect         ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig 重连退避配置
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// StorageConfig 本地凭证存储配置
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	LogLevel    string `mapstructure:"log_level"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// SessionConfig 会话配置（CLI启动时使用）
type SessionConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	RoomID   string `mapstructure:"room_id"`
}

// GameConfig 游戏客户端配置
type GameConfig struct {
	ToastDuration     int    `mapstructure:"toast_duration"` // 毫秒
	DefaultVisibility string `mapstructure:"default_visibility"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 设置环境变量前缀
		v.SetEnvPrefix("WEREWOLF")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// 设置默认值
		setDefaults(v)

		// 读取配置文件
		if err = v.ReadInConfig(); err != nil {
			// 配置文件不存在时使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		// 解析配置到结构体
		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			return
		}

		err = validate(cfg)
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// REST接口默认配置
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", "15s")

	// WebSocket默认配置
	v.SetDefault("websocket.url", "ws://localhost:8000/ws")
	v.SetDefault("websocket.handshake_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 524288)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.enable_compression", false)
	v.SetDefault("websocket.reconnect.base_delay", "1s")
	v.SetDefault("websocket.reconnect.max_delay", "10s")
	v.SetDefault("websocket.reconnect.max_attempts", 5)

	// 存储默认配置
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./data/werewolf-client.db")
	v.SetDefault("storage.log_level", "warn")
	v.SetDefault("storage.auto_migrate", true)

	// 游戏默认配置
	v.SetDefault("game.toast_duration", 5000)
	v.SetDefault("game.default_visibility", "public")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "werewolf-client.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// validate 校验关键配置项
func validate(c *Config) error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url 不能为空")
	}
	if c.WebSocket.URL == "" {
		return fmt.Errorf("websocket.url 不能为空")
	}
	if c.WebSocket.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("websocket.reconnect.max_attempts 不能为负数")
	}
	if c.WebSocket.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("websocket.reconnect.base_delay 必须大于0")
	}
	if c.WebSocket.Reconnect.MaxDelay < c.WebSocket.Reconnect.BaseDelay {
		return fmt.Errorf("websocket.reconnect.max_delay 不能小于 base_delay")
	}
	if c.Game.ToastDuration < 0 {
		return fmt.Errorf("game.toast_duration 不能为负数")
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := validate(newCfg); err != nil {
			fmt.Printf("配置重载校验失败: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}

		fmt.Println("配置已重新加载")
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt 获取整数配置
func GetInt(key string) int {
	return v.GetInt(key)
}

// GetBool 获取布尔配置
func GetBool(key string) bool {
	return v.GetBool(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// IsSet 检查配置项是否存在
func IsSet(key string) bool {
	return v.IsSet(key)
}
