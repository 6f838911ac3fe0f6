package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

const (
	debugHTMLTimeout       = 3 * time.Second
	debugScreenshotTimeout = 5 * time.Second
	screenshotDir          = "/tmp/xhs-detail/screenshots"
)

// 风控或登录墙的页面特征（标题或 HTML 片段，小写比较）
var challengeHints = map[string][]string{
	"captcha": {"安全验证", "滑块", "captcha", "verify you are human", "website-login/captcha"},
	"login":   {"登录后查看", "扫码登录", "手机号登录", "login-container"},
	"rate":    {"访问频繁", "请稍后再试", "too many requests", "429"},
	"network": {"err_connection", "err_proxy", "err_timed_out", "net::"},
}

// detectChallenge 根据标题与 HTML 片段判断失败页属于哪类拦截，未识别返回 "none"。
func detectChallenge(title, html string) string {
	text := strings.ToLower(title + " " + html)
	for _, kind := range []string{"captcha", "login", "rate", "network"} {
		if containsAny(text, challengeHints[kind]) {
			return kind
		}
	}
	return "none"
}

// logPageFailure 记录失败任务的页面诊断信息。
//
// 诊断使用独立 context，任务 context 已超时也能执行。
func (s *Service) logPageFailure(phase, taskID, url string, page *rod.Page, err error) {
	readyState := "unknown"
	pageTitle := "unknown"
	pageHTML := ""
	screenshotPath := ""

	if page != nil {
		diagCtx, diagCancel := context.WithTimeout(context.Background(), debugHTMLTimeout)
		defer diagCancel()
		diagPage := page.Context(diagCtx)

		if v, evalErr := diagPage.Eval("() => document.readyState"); evalErr == nil {
			if state := v.Value.String(); state != "" {
				readyState = state
			}
		}
		if v, evalErr := diagPage.Eval("() => document.title"); evalErr == nil {
			if title := v.Value.String(); title != "" {
				pageTitle = title
			}
		}
		if v, evalErr := diagPage.Eval("() => document.documentElement.outerHTML.substring(0, 2000)"); evalErr == nil {
			pageHTML = v.Value.String()
		}

		screenshotPath = s.saveDebugScreenshot(taskID, phase, page)
	}

	s.logger.Warn("detail page failure",
		slog.String("phase", phase),
		slog.String("task_id", taskID),
		slog.String("url", url),
		slog.String("ready_state", readyState),
		slog.String("page_title", pageTitle),
		slog.String("challenge", detectChallenge(pageTitle, pageHTML)),
		slog.String("screenshot", screenshotPath),
		slog.String("error", err.Error()))
}

// saveDebugScreenshot 保存调试截图，返回截图路径。
// 需要通过配置 browser.debug_screenshot=true 或环境变量 BROWSER_DEBUG_SCREENSHOT=true 开启
func (s *Service) saveDebugScreenshot(taskID, phase string, page *rod.Page) string {
	if !s.cfg.Browser.DebugScreenshot || page == nil {
		return ""
	}

	if err := os.MkdirAll(screenshotDir, 0o755); err != nil {
		s.logger.Warn("failed to create screenshot directory",
			slog.String("dir", screenshotDir),
			slog.String("error", err.Error()))
		return ""
	}

	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(screenshotDir, fmt.Sprintf("%s_%s_%s.png", taskID, phase, timestamp))

	screenshotCtx, cancel := context.WithTimeout(context.Background(), debugScreenshotTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		data, err := page.Context(screenshotCtx).Screenshot(false, nil)
		if err != nil {
			done <- err
			return
		}
		done <- os.WriteFile(path, data, 0o644)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("failed to save screenshot",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()))
			return ""
		}
		s.logger.Info("debug screenshot saved",
			slog.String("task_id", taskID),
			slog.String("path", path))
		return path
	case <-screenshotCtx.Done():
		s.logger.Warn("screenshot timeout", slog.String("task_id", taskID))
		return ""
	}
}
