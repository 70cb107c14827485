package igd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/huin/goupnp"
	"github.com/sirupsen/logrus"
)

const (
	iconTimeout  = 60 * time.Second
	maxIconSize  = 512000 // 超过 500KiB 的图标不下载
	iconFileName = "routerctl-router.icon"
)

var errIconTooLarge = errors.New("图标超过 500KiB")

// PresentationURL 管理页地址。缺失时用描述文件地址的 scheme://host/，
// 相对路径（如 "/login"）拼接到 scheme://host 之后，绝对地址原样返回
func PresentationURL(raw string, location *url.URL) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http") || location == nil {
		return raw
	}

	host := location.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	base := location.Scheme + "://" + host
	if raw == "" {
		return base + "/"
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return base + raw
}

// selectIcon 选面积最大的图标，尺寸相同时优先 png
func selectIcon(dev *goupnp.Device) *goupnp.Icon {
	var best *goupnp.Icon
	for i := range dev.Icons {
		icon := &dev.Icons[i]
		if icon.URL.Str == "" {
			continue
		}
		if best == nil {
			best = icon
			continue
		}
		area, bestArea := icon.Width*icon.Height, best.Width*best.Height
		if area > bestArea || (area == bestArea && icon.Mimetype == "image/png" && best.Mimetype != "image/png") {
			best = icon
		}
	}
	return best
}

// iconURL 图标地址相对于描述文件地址解析
func iconURL(icon *goupnp.Icon, location *url.URL) string {
	if icon == nil {
		return ""
	}
	u := icon.URL.URL
	if location != nil {
		return location.ResolveReference(&u).String()
	}
	return u.String()
}

// startIconDownload 在循环外下载图标，完成后投递回循环；会话已被替换或关闭则丢弃
func (e *Engine) startIconDownload(s *Session) {
	if s.IconURL == "" {
		return
	}
	src := s.IconURL
	dst := filepath.Join(e.opts.IconDir, iconFileName)
	client := e.opts.HTTPClient

	go func() {
		logrus.Infof("下载路由器图标: %s", src)
		ctx, cancel := context.WithTimeout(context.Background(), iconTimeout)
		defer cancel()
		if err := downloadIcon(ctx, client, src, dst); err != nil {
			logrus.Errorf("下载路由器图标失败: %v", err)
			return
		}
		e.loop.Post(func() {
			if s.closed || e.session != s {
				return
			}
			logrus.Info("路由器图标下载完成")
			e.fe.SetRouterIcon(dst)
		})
	}()
}

func downloadIcon(ctx context.Context, client *http.Client, src, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %s", resp.Status)
	}
	if resp.ContentLength > maxIconSize {
		return errIconTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIconSize+1))
	if err != nil {
		return err
	}
	if len(data) > maxIconSize {
		return errIconTooLarge
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
