package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"google_account/internal/config"
	"google_account/internal/model"
	"google_account/internal/utils"
)

var ErrNoAvatar = errors.New("no avatar available")

var avatarExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true}

type SettingsSource interface {
	GetChannelSettings(ctx context.Context) (model.ChannelSettings, bool, error)
}

// AvatarPool 头像目录。Pick 预留文件，成功后 Consume 删除，失败 Release 放回。
type AvatarPool struct {
	cfg      config.ChannelConfig
	settings SettingsSource

	mu       sync.Mutex
	reserved map[string]bool
}

func NewAvatarPool(cfg config.ChannelConfig, settings SettingsSource) *AvatarPool {
	return &AvatarPool{cfg: cfg, settings: settings, reserved: map[string]bool{}}
}

// Dir 库里保存的设置优先于配置文件。
func (p *AvatarPool) Dir(ctx context.Context) string {
	if p.settings != nil {
		if s, ok, err := p.settings.GetChannelSettings(ctx); err == nil && ok && strings.TrimSpace(s.AvatarDir) != "" {
			return s.AvatarDir
		}
	}
	return p.cfg.AvatarDir
}

func (p *AvatarPool) list(ctx context.Context) ([]string, error) {
	dir := p.Dir(ctx)
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: avatar directory not configured", ErrNoAvatar)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read avatar dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !avatarExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Available 未被预留的头像数量。
func (p *AvatarPool) Available(ctx context.Context) (int, error) {
	files, err := p.list(ctx)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range files {
		if !p.reserved[f] {
			n++
		}
	}
	return n, nil
}

// Pick 随机预留一个头像。
func (p *AvatarPool) Pick(ctx context.Context) (string, error) {
	files, err := p.list(ctx)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	free := files[:0]
	for _, f := range files {
		if !p.reserved[f] {
			free = append(free, f)
		}
	}
	if len(free) == 0 {
		return "", ErrNoAvatar
	}
	path := free[utils.Intn(len(free))]
	p.reserved[path] = true
	return path, nil
}

func (p *AvatarPool) Release(path string) {
	p.mu.Lock()
	delete(p.reserved, path)
	p.mu.Unlock()
}

// Consume 删除已使用的头像。
func (p *AvatarPool) Consume(path string) error {
	defer p.Release(path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
