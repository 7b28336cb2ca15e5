package media

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"ChunkFM/cache"
	"ChunkFM/config"
	"ChunkFM/core/assets"
	"ChunkFM/core/track"
	"ChunkFM/logger"
	"ChunkFM/model"
	"ChunkFM/repository"
)

// sourceKind 目前只有一种采集来源
const sourceKindRemote = "remote"

// acquireResult 可被多个调用方等待的采集结果
type acquireResult struct {
	done chan struct{}
	info *model.MediaInfo
	err  error
}

// Acquirer 采集管线
// 对同一 TrackID 全局同时只允许一次管线运行，并发请求合流等待同一结果
type Acquirer struct {
	cfg      *config.Config
	runner   ToolRunner
	registry *assets.Registry
	catalog  *assets.EventCatalog
	library  repository.LibraryRepository

	thumbConverter ThumbnailConverter // 可选，nil 表示不采集封面

	// trackID -> *acquireResult，LoadOrStore 是唯一的原子占位操作
	inflight sync.Map
}

// NewAcquirer 创建采集管线
func NewAcquirer(
	cfg *config.Config,
	runner ToolRunner,
	registry *assets.Registry,
	catalog *assets.EventCatalog,
	library repository.LibraryRepository,
) *Acquirer {
	return &Acquirer{
		cfg:      cfg,
		runner:   runner,
		registry: registry,
		catalog:  catalog,
		library:  library,
	}
}

// WithThumbnailConverter 配置可选的封面转换器
func (a *Acquirer) WithThumbnailConverter(c ThumbnailConverter) *Acquirer {
	a.thumbConverter = c
	return a
}

// Acquire 采集一个远程音频源，产出可播放的分片资产
// 长耗时调用：外部工具全部同步执行，不要在延迟敏感的线程里调用
func (a *Acquirer) Acquire(ctx context.Context, sourceURL string) (*model.MediaInfo, error) {
	trackID, err := track.Resolve(sourceURL)
	if err != nil {
		return nil, err
	}

	res := &acquireResult{done: make(chan struct{})}
	actual, loaded := a.inflight.LoadOrStore(trackID, res)
	r := actual.(*acquireResult)

	if loaded {
		// 已有同曲目的管线在跑，合流等待同一结果
		logger.Debug("采集请求合流",
			logger.String("trackId", trackID))
		select {
		case <-r.done:
			return r.info, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// 本调用方持有管线，完成时精确清除一次在途标记
	start := time.Now()
	info, runErr := a.runPipeline(ctx, trackID, sourceURL)
	r.info, r.err = info, runErr
	a.inflight.Delete(trackID)
	close(r.done)

	if runErr != nil {
		logger.Error("采集失败",
			logger.String("trackId", trackID),
			logger.String("url", sourceURL),
			logger.Duration("elapsed", time.Since(start)),
			logger.ErrorField(runErr))
		return nil, runErr
	}

	logger.Info("采集完成",
		logger.String("trackId", trackID),
		logger.String("title", info.Title),
		logger.Int("chunkCount", info.ChunkCount),
		logger.Duration("elapsed", time.Since(start)))

	return info, nil
}

// IsAcquiring 检查曲目是否有在途的采集管线
func (a *Acquirer) IsAcquiring(trackID string) bool {
	_, ok := a.inflight.Load(trackID)
	return ok
}

// runPipeline 依次执行采集管线的各阶段
func (a *Acquirer) runPipeline(ctx context.Context, trackID, sourceURL string) (*model.MediaInfo, error) {
	// 阶段1：元数据
	meta, err := a.fetchMetadata(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.cfg.TrackDir(trackID), 0755); err != nil {
		return nil, fmt.Errorf("%w: 创建工作目录失败: %v", ErrDownload, err)
	}

	// 登记簿短路：分片已在磁盘上时整体跳过下载和切分
	chunkCount := 0
	if entry := a.lookupLibraryEntry(ctx, trackID); entry != nil {
		if probed := a.probeChunkCount(trackID); probed == entry.ChunkCount && probed > 0 {
			chunkCount = entry.ChunkCount
			logger.Debug("命中登记簿，跳过下载与切分",
				logger.String("trackId", trackID),
				logger.Int("chunkCount", chunkCount))
		}
	}

	if chunkCount == 0 {
		// 阶段2：下载
		sourcePath, err := a.ensureSourceAudio(ctx, trackID, sourceURL)
		if err != nil {
			return nil, err
		}

		// 阶段3：切分（含增量注册）
		chunkCount, err = a.splitIntoChunks(ctx, trackID, sourcePath)
		if err != nil {
			return nil, err
		}

		// 阶段6：切分成功后登记，后续同曲目请求只做廉价探测
		a.recordLibraryEntry(ctx, trackID, chunkCount)
	}

	// 阶段4：兜底确保所有分片资产与声音事件已注册（幂等）
	a.ensureChunksRegistered(ctx, trackID, chunkCount)

	// 阶段5：封面，尽力而为
	thumbAsset := a.acquireThumbnail(ctx, trackID, meta.ThumbnailURL)

	return &model.MediaInfo{
		TrackID:         trackID,
		SourceURL:       sourceURL,
		Title:           meta.Title,
		Artist:          meta.Uploader,
		ThumbnailURL:    meta.ThumbnailURL,
		DurationSeconds: meta.Duration,
		ChunkCount:      chunkCount,
		ThumbnailAsset:  thumbAsset,
	}, nil
}

// lookupLibraryEntry 查询登记簿，缓存优先
func (a *Acquirer) lookupLibraryEntry(ctx context.Context, trackID string) *model.LibraryEntry {
	if cache.RedisClient != nil {
		if entry, err := cache.GetLibraryEntry(ctx, trackID); err == nil && entry != nil {
			return entry
		}
	}

	entry, err := a.library.GetEntry(trackID)
	if err != nil {
		logger.Warn("查询登记簿失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		return nil
	}
	return entry
}

// recordLibraryEntry 写入登记簿并刷新缓存
func (a *Acquirer) recordLibraryEntry(ctx context.Context, trackID string, chunkCount int) {
	entry := &model.LibraryEntry{
		TrackID:    trackID,
		SourceKind: sourceKindRemote,
		ChunkCount: chunkCount,
	}

	if err := a.library.UpsertEntry(entry); err != nil {
		// 登记失败不阻断本次采集，下次请求会重新探测分片
		logger.Warn("写入登记簿失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		return
	}

	if cache.RedisClient != nil {
		if err := cache.SetLibraryEntry(ctx, entry); err != nil {
			logger.Warn("登记簿缓存刷新失败",
				logger.String("trackId", trackID),
				logger.ErrorField(err))
		}
	}
}

// registerChunk 注册单个分片资产及其声音事件描述（幂等）
func (a *Acquirer) registerChunk(ctx context.Context, trackID string, index int, path string) error {
	assetName := assets.ChunkAssetName(trackID, index, a.cfg.ChunkFormat)

	has, err := a.registry.HasAsset(ctx, assetName)
	if err != nil {
		return fmt.Errorf("检查分片资产失败: %w", err)
	}
	if !has {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("读取分片文件失败: %w", err)
		}
		if err := a.registry.RegisterNamedAsset(ctx, assetName, data, "audio/mp4"); err != nil {
			return err
		}
	}

	// 声音事件描述与分片资产一一对应
	_, err = a.catalog.Register(ctx, model.SoundEventDescriptor{
		EventName:   assets.ChunkEventName(trackID, index),
		AssetName:   assetName,
		Volume:      1.0,
		Pitch:       1.0,
		MaxDistance: a.cfg.SoundMaxDistance,
		Attenuation: a.cfg.SoundAttenuation,
		Category:    a.cfg.SoundCategory,
	})
	return err
}

// ensureChunksRegistered 兜底遍历全部分片，补注册缺失的资产和事件
// 注册失败只降级告警，播放侧对缺失资产有自己的重试机制
func (a *Acquirer) ensureChunksRegistered(ctx context.Context, trackID string, chunkCount int) {
	for i := 0; i < chunkCount; i++ {
		if err := a.registerChunk(ctx, trackID, i, a.chunkFilePath(trackID, i)); err != nil {
			logger.Warn("分片补注册失败",
				logger.String("trackId", trackID),
				logger.Int("index", i),
				logger.ErrorField(err))
		}
	}
}
