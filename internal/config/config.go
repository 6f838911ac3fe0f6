package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Browser  BrowserConfig  `json:"browser"`
	Detail   DetailConfig   `json:"detail"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env            string        `json:"env"`              // 运行环境: local / prod
	LogLevel       string        `json:"log_level"`        // 日志级别: debug / info / warn / error
	HTTPAddr       string        `json:"http_addr"`        // API 服务监听地址
	MetricsAddr    string        `json:"metrics_addr"`     // 爬虫节点 metrics 监听地址
	WorkerPoolSize int           `json:"worker_pool_size"` // API 侧结果落库的 Worker 数
	QueueCapacity  int           `json:"queue_capacity"`   // API 侧结果落库队列容量
	RateLimit      float64       `json:"rate_limit"`       // 全局导航速率（token/s）
	RateBurst      float64       `json:"rate_burst"`       // 限流桶容量
	DedupWindow    int           `json:"dedup_window"`     // 同一笔记重复投递的抑制窗口（秒）
	TaskTimeout    time.Duration `json:"task_timeout"`     // 单个任务的超时（含评论加载）
	MaxTasks       int           `json:"max_tasks"`        // 重启浏览器进程前的最大任务数
}

// DatabaseConfig 快照存储配置。
type DatabaseConfig struct {
	Driver string `json:"driver"` // mysql / sqlite
	DSN    string `json:"dsn"`    // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
	DB       int    `json:"db"`
}

// BrowserConfig 浏览器配置。
type BrowserConfig struct {
	BinPath         string        `json:"bin_path"`         // 浏览器可执行文件路径
	ProxyURL        string        `json:"proxy_url"`        // 代理服务器 URL
	Headless        bool          `json:"headless"`         // 是否使用无头模式
	MaxConcurrency  int           `json:"max_concurrency"`  // 最大并发页面数
	PageTimeout     time.Duration `json:"page_timeout"`     // 单个页面的总超时
	NavigateTimeout time.Duration `json:"navigate_timeout"` // 单次导航超时
	UserAgent       string        `json:"user_agent"`
	CookiesPath     string        `json:"cookies_path"`     // 登录态 cookies 文件
	DebugScreenshot bool          `json:"debug_screenshot"` // 失败时保存截图
}

// DetailConfig 详情抓取的默认参数。
type DetailConfig struct {
	ScrollSpeed     string   `json:"scroll_speed"`     // slow / normal / fast
	ReplyThreshold  int      `json:"reply_threshold"`  // 展开回复的阈值
	ExpandReplies   bool     `json:"expand_replies"`   // 默认是否展开回复
	NavigateRetries int      `json:"navigate_retries"` // 导航重试次数
	BlockedPhrases  []string `json:"blocked_phrases"`  // 额外的受限提示语
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:            "local",
			LogLevel:       "info",
			HTTPAddr:       ":18060",
			MetricsAddr:    ":2112",
			WorkerPoolSize: 4,
			QueueCapacity:  256,
			RateLimit:      0.5,
			RateBurst:      2,
			DedupWindow:    600,
			TaskTimeout:    15 * time.Minute,
			MaxTasks:       200,
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			DSN:    "root:password@tcp(localhost:3306)/xiaohongshu?parseTime=true&loc=Local&charset=utf8mb4",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Browser: BrowserConfig{
			Headless:        true,
			MaxConcurrency:  2,
			PageTimeout:     10 * time.Minute,
			NavigateTimeout: 60 * time.Second,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			CookiesPath:     "cookies.json",
		},
		Detail: DetailConfig{
			ScrollSpeed:     "normal",
			ReplyThreshold:  10,
			NavigateRetries: 3,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.DedupWindow == 0 {
		cfg.App.DedupWindow = defaults.App.DedupWindow
	}
	if cfg.App.TaskTimeout == 0 {
		cfg.App.TaskTimeout = defaults.App.TaskTimeout
	}
	if cfg.App.MaxTasks == 0 {
		cfg.App.MaxTasks = defaults.App.MaxTasks
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Browser.MaxConcurrency == 0 {
		cfg.Browser.MaxConcurrency = defaults.Browser.MaxConcurrency
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Browser.NavigateTimeout == 0 {
		cfg.Browser.NavigateTimeout = defaults.Browser.NavigateTimeout
	}
	if cfg.Browser.UserAgent == "" {
		cfg.Browser.UserAgent = defaults.Browser.UserAgent
	}
	if cfg.Browser.CookiesPath == "" {
		cfg.Browser.CookiesPath = defaults.Browser.CookiesPath
	}
	if cfg.Detail.ScrollSpeed == "" {
		cfg.Detail.ScrollSpeed = defaults.Detail.ScrollSpeed
	}
	if cfg.Detail.ReplyThreshold == 0 {
		cfg.Detail.ReplyThreshold = defaults.Detail.ReplyThreshold
	}
	if cfg.Detail.NavigateRetries == 0 {
		cfg.Detail.NavigateRetries = defaults.Detail.NavigateRetries
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")
	_ = viper.BindEnv("cookies_path", "COOKIES_PATH")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_DEDUP_WINDOW"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.DedupWindow = i
		}
	}
	if v := os.Getenv("APP_TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.TaskTimeout = d
		}
	}
	if v := os.Getenv("MAX_TASKS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxTasks = i
		}
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	} else if cfg.Database.Driver == "mysql" && (hasAnyEnv("DB_PORT", "DB_USER", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "") {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = i
		}
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := viper.GetString("cookies_path"); v != "" {
		cfg.Browser.CookiesPath = v
	}
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.Browser.ProxyURL = v
	} else if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_MAX_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Browser.MaxConcurrency = i
		}
	}
	if v := os.Getenv("BROWSER_PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.PageTimeout = d
		}
	}
	if v := os.Getenv("BROWSER_DEBUG_SCREENSHOT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.DebugScreenshot = b
		}
	}

	if v := os.Getenv("DETAIL_SCROLL_SPEED"); v != "" {
		cfg.Detail.ScrollSpeed = v
	}
	if v := os.Getenv("DETAIL_REPLY_THRESHOLD"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Detail.ReplyThreshold = i
		}
	}
	if v := os.Getenv("DETAIL_EXPAND_REPLIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Detail.ExpandReplies = b
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if parsed, err := mysql.ParseDSN(dsn); err == nil && dsn != "" {
		return parsed
	}
	cfg := mysql.NewConfig()
	cfg.User = "root"
	cfg.Net = "tcp"
	cfg.Addr = "localhost:3306"
	cfg.DBName = "xiaohongshu"
	cfg.ParseTime = true
	return cfg
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		TaskTimeout string `json:"task_timeout"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.TaskTimeout != "" {
		d, err := time.ParseDuration(aux.TaskTimeout)
		if err != nil {
			return fmt.Errorf("invalid task_timeout format: %w", err)
		}
		a.TaskTimeout = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		TaskTimeout string `json:"task_timeout"`
		*Alias
	}{
		TaskTimeout: a.TaskTimeout.String(),
		Alias:       (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (b *BrowserConfig) UnmarshalJSON(data []byte) error {
	type Alias BrowserConfig
	aux := &struct {
		PageTimeout     string `json:"page_timeout"`
		NavigateTimeout string `json:"navigate_timeout"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.PageTimeout != "" {
		d, err := time.ParseDuration(aux.PageTimeout)
		if err != nil {
			return fmt.Errorf("invalid page_timeout format: %w", err)
		}
		b.PageTimeout = d
	}
	if aux.NavigateTimeout != "" {
		d, err := time.ParseDuration(aux.NavigateTimeout)
		if err != nil {
			return fmt.Errorf("invalid navigate_timeout format: %w", err)
		}
		b.NavigateTimeout = d
	}
	return nil
}
