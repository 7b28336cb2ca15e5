package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
)

// sourceMetadata 元数据工具输出中本系统关心的字段
type sourceMetadata struct {
	Title        string  `json:"title"`
	Uploader     string  `json:"uploader"`
	ThumbnailURL string  `json:"thumbnail"`
	Duration     float64 `json:"duration"` // 秒
}

// fetchMetadata 调用元数据工具解析标题/上传者/封面/时长
func (a *Acquirer) fetchMetadata(ctx context.Context, sourceURL string) (*sourceMetadata, error) {
	out, stderr, err := a.runner.Run(ctx, a.cfg.YtDlpPath, "-J", "--no-playlist", sourceURL)
	if err != nil {
		// 工具不存在与工具执行失败是不同的故障
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %v", ErrMetadataFetch, a.cfg.YtDlpPath, err)
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrMetadataParse, err, stderrExcerpt(stderr))
	}

	var meta sourceMetadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}

	if meta.Title == "" {
		return nil, fmt.Errorf("%w: 输出中缺少标题", ErrMetadataParse)
	}
	if meta.Duration <= 0 {
		return nil, fmt.Errorf("%w: 输出中缺少有效时长", ErrMetadataParse)
	}

	return &meta, nil
}
