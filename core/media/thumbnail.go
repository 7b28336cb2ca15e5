package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ChunkFM/core/assets"
	"ChunkFM/core/utils"
	"ChunkFM/logger"
)

// ThumbnailConverter 封面图片转换接口，可选依赖
// 未配置时封面采集整体跳过，属于普通的配置状态而非运行时探测
type ThumbnailConverter interface {
	// ConvertToPNG 将任意格式的图片转换为PNG
	ConvertToPNG(ctx context.Context, inputPath, outputPath string) error
}

// ffmpegThumbnailConverter 用 FFmpeg 做图片格式转换
type ffmpegThumbnailConverter struct {
	ffmpegPath string
	runner     ToolRunner
}

// NewFFmpegThumbnailConverter 创建基于 FFmpeg 的封面转换器
func NewFFmpegThumbnailConverter(ffmpegPath string, runner ToolRunner) ThumbnailConverter {
	return &ffmpegThumbnailConverter{ffmpegPath: ffmpegPath, runner: runner}
}

func (c *ffmpegThumbnailConverter) ConvertToPNG(ctx context.Context, inputPath, outputPath string) error {
	_, stderr, err := c.runner.Run(ctx, c.ffmpegPath,
		"-y",
		"-i", inputPath,
		"-frames:v", "1",
		outputPath,
	)
	if err != nil {
		return fmt.Errorf("封面转换失败: %v: %s", err, stderrExcerpt(stderr))
	}
	if !utils.FileExists(outputPath) {
		return fmt.Errorf("封面转换未产出 %s", outputPath)
	}
	return nil
}

// acquireThumbnail 下载并注册封面资产，尽力而为
// 任何失败都只记录告警并返回空资产名，不影响整体采集
func (a *Acquirer) acquireThumbnail(ctx context.Context, trackID, thumbnailURL string) string {
	if thumbnailURL == "" || a.thumbConverter == nil {
		return ""
	}

	assetName := assets.ThumbnailAssetName(trackID)

	// 已注册则直接复用
	if has, err := a.registry.HasAsset(ctx, assetName); err == nil && has {
		return assetName
	}

	rawPath := filepath.Join(a.cfg.TrackDir(trackID), "thumbnail_raw")
	pngPath := filepath.Join(a.cfg.TrackDir(trackID), "thumbnail.png")
	defer os.Remove(rawPath)

	if err := utils.DownloadFile(thumbnailURL, rawPath); err != nil {
		logger.Warn("封面下载失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		return ""
	}

	if err := a.thumbConverter.ConvertToPNG(ctx, rawPath, pngPath); err != nil {
		logger.Warn("封面转换失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		return ""
	}

	data, err := os.ReadFile(pngPath)
	if err != nil {
		logger.Warn("读取封面失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		return ""
	}

	if err := a.registry.RegisterNamedAsset(ctx, assetName, data, "image/png"); err != nil {
		logger.Warn("封面注册失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		return ""
	}

	return assetName
}
