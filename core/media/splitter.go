package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"ChunkFM/core/utils"
	"ChunkFM/logger"

	"github.com/fsnotify/fsnotify"
)

// chunkTask 单个分片的注册任务
type chunkTask struct {
	trackID string
	index   int
	path    string
}

// chunkFileName 返回分片文件名，索引零填充保证顺序探测
func (a *Acquirer) chunkFileName(trackID string, index int) string {
	return fmt.Sprintf("%s_chunk_%03d.%s", trackID, index, a.cfg.ChunkFormat)
}

// chunkFilePath 返回分片文件的完整路径
func (a *Acquirer) chunkFilePath(trackID string, index int) string {
	return filepath.Join(a.cfg.TrackDir(trackID), a.chunkFileName(trackID, index))
}

// probeChunkCount 通过顺序探测文件名统计分片数量
// 这是权威的分片计数，不信任切分工具自己的输出
func (a *Acquirer) probeChunkCount(trackID string) int {
	count := 0
	for {
		if !utils.FileExists(a.chunkFilePath(trackID, count)) {
			break
		}
		count++
	}
	return count
}

// splitIntoChunks 将规范音频切分为定长分片并边切边注册
// 架构沿用流水线思路：切分工具输出分片 → fsnotify 监听 → WorkerPool 注册资产
func (a *Acquirer) splitIntoChunks(ctx context.Context, trackID, sourcePath string) (int, error) {
	trackDir := a.cfg.TrackDir(trackID)

	// 已有分片直接复用（幂等）
	if count := a.probeChunkCount(trackID); count > 0 {
		logger.Debug("分片文件已存在，跳过切分",
			logger.String("trackId", trackID),
			logger.Int("chunkCount", count))
		return count, nil
	}

	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4 // 限制最大并发，注册走网络不宜铺太开
	}

	taskChan := make(chan *chunkTask, 100)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			a.registerWorker(ctx, workerID, taskChan)
		}(i)
	}

	// 创建文件监听器，在切分过程中增量发现新分片
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		close(taskChan)
		wg.Wait()
		return 0, fmt.Errorf("%w: 创建文件监听器失败: %v", ErrChunking, err)
	}
	if err := watcher.Add(trackDir); err != nil {
		watcher.Close()
		close(taskChan)
		wg.Wait()
		return 0, fmt.Errorf("%w: 监听目录失败: %v", ErrChunking, err)
	}

	// 已投递的分片追踪
	queued := &sync.Map{}

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		a.watchChunks(ctx, watcher, trackID, taskChan, queued)
	}()

	// 执行切分（阻塞到工具退出）
	pattern := filepath.Join(trackDir, fmt.Sprintf("%s_chunk_%%03d.%s", trackID, a.cfg.ChunkFormat))
	_, stderr, runErr := a.runner.Run(ctx, a.cfg.FFmpegPath,
		"-i", sourcePath,
		"-f", "segment",
		"-segment_time", strconv.Itoa(a.cfg.ChunkSeconds),
		"-c", "copy", // 不重编码，切分速度远快于转码
		"-vn",
		pattern,
	)

	// 给监听器一点时间处理最后的文件事件
	time.Sleep(200 * time.Millisecond)
	watcher.Close()
	<-watcherDone

	// 最终扫描，补投可能遗漏的分片
	count := a.probeChunkCount(trackID)
scan:
	for i := 0; i < count; i++ {
		if _, loaded := queued.LoadOrStore(a.chunkFileName(trackID, i), true); loaded {
			continue
		}
		select {
		case taskChan <- &chunkTask{trackID: trackID, index: i, path: a.chunkFilePath(trackID, i)}:
		case <-ctx.Done():
			break scan // worker 随 ctx 退出，不再投递
		}
	}

	close(taskChan)
	wg.Wait()

	if runErr != nil {
		return 0, fmt.Errorf("%w: %v: %s", ErrChunking, runErr, stderrExcerpt(stderr))
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: 没有生成分片文件", ErrChunking)
	}

	logger.Info("音频切分完成",
		logger.String("trackId", trackID),
		logger.Int("chunkCount", count))

	return count, nil
}

// watchChunks 监听新分片文件，稳定后投递注册任务
func (a *Acquirer) watchChunks(
	ctx context.Context,
	watcher *fsnotify.Watcher,
	trackID string,
	taskChan chan<- *chunkTask,
	queued *sync.Map,
) {
	// 文件稳定性检查的延迟队列
	pendingFiles := make(map[string]time.Time)
	checkTicker := time.NewTicker(50 * time.Millisecond)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if _, ok := parseChunkIndex(filepath.Base(event.Name), trackID); ok {
					pendingFiles[event.Name] = time.Now()
				}
			}

		case <-checkTicker.C:
			now := time.Now()
			for filePath, lastMod := range pendingFiles {
				if now.Sub(lastMod) < 100*time.Millisecond {
					continue // 文件可能还在写入
				}

				name := filepath.Base(filePath)
				index, ok := parseChunkIndex(name, trackID)
				if !ok {
					delete(pendingFiles, filePath)
					continue
				}

				if _, loaded := queued.LoadOrStore(name, true); loaded {
					delete(pendingFiles, filePath)
					continue
				}

				if !a.isFileStable(filePath) {
					queued.Delete(name)
					continue // 下个tick再试
				}

				select {
				case taskChan <- &chunkTask{trackID: trackID, index: index, path: filePath}:
					logger.Debug("检测到新分片",
						logger.String("trackId", trackID),
						logger.Int("index", index))
				default:
					// 通道满了，撤销占位稍后重试
					queued.Delete(name)
					continue
				}

				delete(pendingFiles, filePath)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("文件监听错误", logger.ErrorField(err))
		}
	}
}

// registerWorker 消费分片注册任务
func (a *Acquirer) registerWorker(ctx context.Context, workerID int, taskChan <-chan *chunkTask) {
	for task := range taskChan {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := a.registerChunk(ctx, task.trackID, task.index, task.path); err != nil {
			// 注册失败只降级告警，ensureChunksRegistered 还会兜底重试
			logger.Warn("分片注册失败",
				logger.Int("worker", workerID),
				logger.String("trackId", task.trackID),
				logger.Int("index", task.index),
				logger.ErrorField(err))
			continue
		}

		logger.Debug("分片注册完成",
			logger.Int("worker", workerID),
			logger.String("trackId", task.trackID),
			logger.Int("index", task.index))
	}
}

// isFileStable 检查文件是否写入完成（两次stat大小一致）
func (a *Acquirer) isFileStable(path string) bool {
	size1, ok := fileSize(path)
	if !ok || size1 == 0 {
		return false
	}

	time.Sleep(30 * time.Millisecond)

	size2, ok := fileSize(path)
	return ok && size1 == size2
}

// parseChunkIndex 从分片文件名解析索引，非分片文件返回 false
// 索引零填充到3位，超长曲目会自然增长到4位以上
func parseChunkIndex(name, trackID string) (int, bool) {
	prefix := trackID + "_chunk_"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}
	rest := name[len(prefix):]
	dot := strings.LastIndexByte(rest, '.')
	if dot <= 0 {
		return 0, false
	}
	idx, err := strconv.Atoi(rest[:dot])
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// fileSize 返回文件大小，文件不存在时 ok 为 false
func fileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}
