package crawler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-rod/rod/lib/proto"
)

// loadCookies 读取登录后导出的 cookies 文件。
//
// 支持两种格式：直接的 cookie 数组，或 {"cookies": [...]}。
// 文件不存在时返回 nil, nil，以游客身份访问。
func loadCookies(path string) ([]*proto.NetworkCookieParam, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return parseCookies(data)
}

func parseCookies(data []byte) ([]*proto.NetworkCookieParam, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var cookies []*proto.NetworkCookie
	if data[0] == '[' {
		if err := json.Unmarshal(data, &cookies); err != nil {
			return nil, fmt.Errorf("decode cookies: %w", err)
		}
	} else {
		var wrapped struct {
			Cookies []*proto.NetworkCookie `json:"cookies"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode cookies: %w", err)
		}
		cookies = wrapped.Cookies
	}

	valid := cookies[:0]
	for _, c := range cookies {
		if c != nil && c.Name != "" {
			valid = append(valid, c)
		}
	}
	return proto.CookiesToParams(valid), nil
}
