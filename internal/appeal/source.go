package appeal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"google_account/internal/config"
	"google_account/internal/utils"
)

var ErrNoAppealText = errors.New("no appeal text available")

// TextSource 申诉文案来源。
type TextSource interface {
	Pick(ctx context.Context) (string, error)
}

// FileTextSource 申诉文案文件：.txt 每行一条，其余按 xlsx 读第二列。
// 文件修改时间或大小变化后，下一次 Pick 重新加载。
type FileTextSource struct {
	cfg config.AppealConfig

	mu      sync.Mutex
	texts   []string
	modTime time.Time
	size    int64
}

func NewFileTextSource(cfg config.AppealConfig) *FileTextSource {
	return &FileTextSource{cfg: cfg}
}

// Load 读取全部候选文案，空行和空单元格跳过。
func (s *FileTextSource) Load() ([]string, error) {
	path := strings.TrimSpace(s.cfg.File)
	if path == "" {
		return nil, fmt.Errorf("%w: appeal file not configured", ErrNoAppealText)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open appeal file: %w", err)
	}

	var texts []string
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		texts, err = readLines(path)
	} else {
		texts, err = s.readSheet(path)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.texts = texts
	s.modTime = info.ModTime()
	s.size = info.Size()
	s.mu.Unlock()
	return texts, nil
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open appeal file: %w", err)
	}
	var texts []string
	for _, line := range strings.Split(string(raw), "\n") {
		if t := strings.TrimSpace(line); t != "" {
			texts = append(texts, t)
		}
	}
	return texts, nil
}

func (s *FileTextSource) readSheet(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open appeal file: %w", err)
	}
	defer f.Close()

	sheet := s.cfg.Sheet
	if sheet == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: workbook has no sheet", ErrNoAppealText)
		}
		sheet = list[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if s.cfg.HeaderRow && len(rows) > 0 {
		rows = rows[1:]
	}

	var texts []string
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		if t := strings.TrimSpace(row[1]); t != "" {
			texts = append(texts, t)
		}
	}
	return texts, nil
}

// current 文件未变化时用缓存；文件暂时不可读时沿用上次的内容。
func (s *FileTextSource) current() ([]string, error) {
	s.mu.Lock()
	texts, modTime, size := s.texts, s.modTime, s.size
	s.mu.Unlock()

	info, err := os.Stat(strings.TrimSpace(s.cfg.File))
	switch {
	case err != nil && len(texts) > 0:
		return texts, nil
	case err == nil && len(texts) > 0 && info.ModTime().Equal(modTime) && info.Size() == size:
		return texts, nil
	}
	return s.Load()
}

func (s *FileTextSource) Pick(_ context.Context) (string, error) {
	texts, err := s.current()
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		return "", ErrNoAppealText
	}
	return texts[utils.Intn(len(texts))], nil
}

// StaticTextSource 固定列表，测试与命令行工具使用。
type StaticTextSource []string

func (s StaticTextSource) Pick(context.Context) (string, error) {
	if len(s) == 0 {
		return "", ErrNoAppealText
	}
	return s[utils.Intn(len(s))], nil
}
