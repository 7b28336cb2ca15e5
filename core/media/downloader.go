package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ChunkFM/core/utils"
	"ChunkFM/logger"
)

// sourceAudioPath 返回规范音频文件路径
func (a *Acquirer) sourceAudioPath(trackID string) string {
	return filepath.Join(a.cfg.TrackDir(trackID), "source."+a.cfg.ChunkFormat)
}

// ensureSourceAudio 确保规范音频文件存在
// 已存在时直接复用（幂等，重试 acquire 不会重复下载）
func (a *Acquirer) ensureSourceAudio(ctx context.Context, trackID, sourceURL string) (string, error) {
	dest := a.sourceAudioPath(trackID)
	if utils.FileExists(dest) {
		logger.Debug("规范音频已存在，跳过下载",
			logger.String("trackId", trackID),
			logger.String("path", dest))
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("%w: 创建工作目录失败: %v", ErrDownload, err)
	}

	// 输出模板交给下载工具补扩展名，再按约定路径校验
	stem := filepath.Join(a.cfg.TrackDir(trackID), "source")
	_, stderr, err := a.runner.Run(ctx, a.cfg.YtDlpPath,
		"-x",
		"--audio-format", a.cfg.ChunkFormat,
		"-o", stem+".%(ext)s",
		sourceURL,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrDownload, err, stderrExcerpt(stderr))
	}

	// 非零退出之外，产物缺失同样视为失败
	if !utils.FileExists(dest) {
		return "", fmt.Errorf("%w: 工具未产出 %s", ErrDownload, dest)
	}

	logger.Info("音频下载完成",
		logger.String("trackId", trackID),
		logger.String("path", dest))

	return dest, nil
}
