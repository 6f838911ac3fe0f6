package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/config"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/metrics"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// 详情页不需要的资源：字体、音视频与第三方追踪脚本。
// 图片保留，评论区布局（展开按钮的位置）依赖图片尺寸。
var blockedURLs = []string{
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.otf",
	"*.mp4", "*.webm", "*.m4v", "*.mov", "*.avi",
	"*.mp3", "*.aac", "*.m4a", "*.ogg", "*.wav", "*.flac",

	"*google-analytics*",
	"*googletagmanager*",
	"*doubleclick*",
	"*sentry*",
	"*apm-fe.xiaohongshu.com*",
	"*t2.xiaohongshu.com*",
	"*fe-static.xhscdn.com/formula-static/xhs-pc-web/public/resource/video*",
}

// pageHandle 一个已就绪的页面及其释放函数。
type pageHandle struct {
	page  Page
	raw   *rod.Page // 仅用于诊断，测试中为 nil
	close func()
}

// pageOpener 打开一个新页面，调用方负责 close。
type pageOpener func(ctx context.Context) (*pageHandle, error)

// startBrowser 根据配置启动浏览器。
//
// 它会根据配置决定是否使用 Headless 模式、代理以及是否下载默认浏览器。
// 针对 WSL2/容器环境做了适配（NoSandbox）。
//
// 参数:
//
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*rod.Browser: 连接好的浏览器实例
//	error: 启动失败返回错误
func startBrowser(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*rod.Browser, error) {
	bin := cfg.Browser.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	// 针对 Docker/EC2 环境的 Flag 优化
	l := launcher.New().
		Headless(cfg.Browser.Headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm，防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("js-flags", "--max_old_space_size=512")

	var proxyUser, proxyPass string
	if cfg.Browser.ProxyURL != "" {
		parsed, err := url.Parse(cfg.Browser.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", cfg.Browser.ProxyURL)
		}
		proxyServer := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			proxyPass, _ = parsed.User.Password()
		}
		l = l.Proxy(proxyServer)
		logger.Info("using http proxy",
			slog.String("server", proxyServer),
			slog.Bool("auth", proxyUser != ""))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	// 启动用的 ctx 只约束连接过程
	browser = browser.Context(context.Background())
	if proxyUser != "" {
		go browser.MustHandleAuth(proxyUser, proxyPass)()
	}

	logger.Info("browser started", slog.String("bin", bin), slog.Bool("headless", cfg.Browser.Headless))
	return browser, nil
}

// openRodPage 创建一个隐身页面：注入 stealth 脚本、屏蔽无关资源、设置 UA 与 cookies。
func (s *Service) openRodPage(ctx context.Context) (*pageHandle, error) {
	s.mu.RLock()
	browser := s.browser
	cookies := s.cookies
	s.mu.RUnlock()
	if browser == nil {
		return nil, fmt.Errorf("browser not initialized")
	}

	type pageResult struct {
		page *rod.Page
		err  error
	}
	resultCh := make(chan pageResult, 1)
	go func() {
		page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
		select {
		case resultCh <- pageResult{page: page, err: err}:
		default:
		}
	}()

	timer := time.NewTimer(pageCreateTimeout)
	defer timer.Stop()

	var page *rod.Page
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("create page failed: %w", res.err)
		}
		page = res.page
	case <-timer.C:
		// 超时后创建成功的页面要及时关闭
		go func() {
			if res := <-resultCh; res.page != nil {
				_ = res.page.Close()
			}
		}()
		return nil, fmt.Errorf("create page timeout after %v", pageCreateTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.page != nil {
				_ = res.page.Close()
			}
		}()
		return nil, fmt.Errorf("context cancelled during page creation: %w", ctx.Err())
	}

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("apply stealth script: %w", err)
	}
	if err := (proto.NetworkSetBlockedURLs{Urls: blockedURLs}).Call(page); err != nil {
		s.logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
	}

	ua := s.cfg.Browser.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		s.logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}
	if len(cookies) > 0 {
		if err := page.SetCookies(cookies); err != nil {
			s.logger.Warn("set cookies failed", slog.String("error", err.Error()))
		}
	}

	metrics.ActivePages.Inc()
	return &pageHandle{
		page: newRodPage(page),
		raw:  page,
		close: func() {
			metrics.ActivePages.Dec()
			// 任务 ctx 可能已超时，关闭页面使用独立的 ctx
			closeCtx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
			defer cancel()
			_ = page.Context(closeCtx).Close()
		},
	}, nil
}

// startBrowserHealthCheck 定期检查浏览器健康状态，如果无响应则重启浏览器实例。
func (s *Service) startBrowserHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(browserHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.checkBrowserHealth(ctx) {
				continue
			}
			s.logger.Warn("browser health check failed, restarting browser instance")
			if err := s.restartBrowserInstance(ctx); err != nil {
				s.logger.Error("failed to restart browser instance", slog.String("error", err.Error()))
			} else {
				metrics.BrowserRestartsTotal.Inc()
				s.logger.Info("browser instance restarted successfully")
			}
		}
	}
}

// checkBrowserHealth 检查浏览器是否响应，返回 true 表示健康，false 表示无响应。
func (s *Service) checkBrowserHealth(ctx context.Context) bool {
	s.mu.RLock()
	browser := s.browser
	s.mu.RUnlock()
	if browser == nil {
		return false
	}

	healthCtx, cancel := context.WithTimeout(ctx, browserHealthTimeout)
	defer cancel()

	page, err := browser.Context(healthCtx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return false
	}
	defer func() { _ = page.Close() }()

	_, err = page.Eval("() => document.title")
	return err == nil
}

// restartBrowserInstance 关闭旧浏览器并启动新实例，同时重新读取 cookies。
func (s *Service) restartBrowserInstance(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
	defer cancel()

	newBrowser, err := startBrowser(initCtx, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("start new browser: %w", err)
	}
	cookies, err := loadCookies(s.cfg.Browser.CookiesPath)
	if err != nil {
		s.logger.Warn("reload cookies failed, keeping previous", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	old := s.browser
	s.browser = newBrowser
	if err == nil {
		s.cookies = cookies
	}
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("close old browser failed", slog.String("error", err.Error()))
		}
	}
	return nil
}
