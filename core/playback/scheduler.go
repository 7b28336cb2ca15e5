package playback

import (
	"sync"
	"time"

	"ChunkFM/config"
	"ChunkFM/core/assets"
	"ChunkFM/logger"
	"ChunkFM/model"
)

// Scheduler 持有全部活跃会话并驱动分片推进
// 会话键要么是空间坐标键（pos: 前缀）要么是听者标识，二者不会冲突
type Scheduler struct {
	cfg      *config.Config
	catalog  *assets.EventCatalog
	emitter  SoundEmitter
	gate     ListenerGate
	executor *WorldExecutor

	sessions sync.Map // 会话键 → *session

	// 测试注入点，生产环境固定为 time.Now / time.AfterFunc
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewScheduler 创建播放调度器
func NewScheduler(
	cfg *config.Config,
	catalog *assets.EventCatalog,
	emitter SoundEmitter,
	gate ListenerGate,
	executor *WorldExecutor,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		catalog:   catalog,
		emitter:   emitter,
		gate:      gate,
		executor:  executor,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Play 在空间坐标处开始播放，替换该坐标上的既有会话
func (sch *Scheduler) Play(pos model.Position, info *model.MediaInfo) {
	s := newSession(info.TrackID, info.ChunkCount, sch.cfg.ChunkDurationMs(), sch.now)
	p := pos
	s.pos = &p
	sch.startSession(pos.Key(), s)
}

// PlayForListener 对指定听者开始播放，替换该听者的既有会话
func (sch *Scheduler) PlayForListener(listenerID string, info *model.MediaInfo) {
	s := newSession(info.TrackID, info.ChunkCount, sch.cfg.ChunkDurationMs(), sch.now)
	s.listenerID = listenerID
	sch.startSession(listenerID, s)
}

// startSession 保证同一键下最多一个活跃会话。
// Swap 让换入和取出旧会话是同一次原子操作，并发 Play 同键时
// 输掉的会话必然被赢家换出并停掉，不会留下挂着定时器的孤儿会话。
func (sch *Scheduler) startSession(key string, s *session) {
	if prev, ok := sch.sessions.Swap(key, s); ok {
		old := prev.(*session)
		old.mu.Lock()
		old.stop()
		old.mu.Unlock()
	}

	s.mu.Lock()
	s.play()
	logger.Info("开始播放",
		logger.String("sessionId", s.id),
		logger.String("trackId", s.trackID),
		logger.String("key", key),
		logger.Int("chunkCount", s.chunkCount))
	sch.startChunkLocked(s, s.generation)
	s.mu.Unlock()
}

// Pause 用户主动暂停
func (sch *Scheduler) Pause(key string) bool {
	s := sch.lookup(key)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != statePlaying {
		return false
	}
	s.pause(true)
	return true
}

// Resume 从暂停位置继续播放
func (sch *Scheduler) Resume(key string) bool {
	s := sch.lookup(key)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resume() {
		return false
	}
	sch.startChunkLocked(s, s.generation)
	return true
}

// Stop 停止会话
func (sch *Scheduler) Stop(key string) bool {
	s := sch.lookup(key)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateStopped {
		return false
	}
	s.stop()
	return true
}

// Seek 按进度比例跳转，fraction 夹取到 [0,1]
// 播放中跳转会立即切到目标分片重新触发
func (sch *Scheduler) Seek(key string, fraction float64) bool {
	s := sch.lookup(key)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	s.seekToMs(int64(fraction * float64(s.totalDurationMs())))

	if s.state == statePlaying {
		// 旧分片边界的定时器已不再有效
		s.cancelTimer()
		s.generation++
		sch.startChunkLocked(s, s.generation)
	}
	return true
}

// SetLoopEnabled 设置循环播放
func (sch *Scheduler) SetLoopEnabled(key string, enabled bool) bool {
	s := sch.lookup(key)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = enabled
	return true
}

// SetVolume 设置音量，入参为 0~100 的百分比
func (sch *Scheduler) SetVolume(key string, percent float64) bool {
	s := sch.lookup(key)
	if s == nil {
		return false
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = percent / 100
	return true
}

// Status 查询会话状态快照
func (sch *Scheduler) Status(key string) (model.PlaybackStatus, bool) {
	s := sch.lookup(key)
	if s == nil {
		return model.PlaybackStatus{IsStopped: true}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status(), true
}

// OnListenerGone 听者失联时由桥接层调用，播放中的会话自动暂停
func (sch *Scheduler) OnListenerGone(listenerID string) {
	s := sch.lookup(listenerID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == statePlaying {
		s.pause(false)
		logger.Info("听者失联，自动暂停",
			logger.String("sessionId", s.id),
			logger.String("listenerId", listenerID))
	}
}

// OnListenerEligible 听者恢复可达时由桥接层调用
// 只有环境原因暂停的会话才静默续播，用户暂停的保持不动
func (sch *Scheduler) OnListenerEligible(listenerID string) {
	s := sch.lookup(listenerID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != statePaused || s.pausedByUser {
		return
	}
	if s.resume() {
		logger.Info("听者恢复，自动续播",
			logger.String("sessionId", s.id),
			logger.String("listenerId", listenerID))
		sch.startChunkLocked(s, s.generation)
	}
}

// StopAll 停止全部会话，服务关闭时调用
func (sch *Scheduler) StopAll() {
	sch.sessions.Range(func(_, value any) bool {
		s := value.(*session)
		s.mu.Lock()
		s.stop()
		s.mu.Unlock()
		return true
	})
}

func (sch *Scheduler) lookup(key string) *session {
	if v, ok := sch.sessions.Load(key); ok {
		return v.(*session)
	}
	return nil
}

// startChunkLocked 执行分片推进副作用，调用方必须持有 s.mu
// 流程：解析事件索引 → 未注册则有界重试 → 校验听者资格 → 派发触发 → 定时推进
func (sch *Scheduler) startChunkLocked(s *session, gen uint64) {
	if s.state != statePlaying || gen != s.generation {
		return
	}

	eventName := assets.ChunkEventName(s.trackID, s.chunkIndex)
	idx, ok := sch.catalog.IndexOf(eventName)
	if !ok {
		s.missingRetries++
		if s.missingRetries >= sch.cfg.AssetRetryMax {
			logger.Warn("分片事件始终未注册，停止会话",
				logger.String("sessionId", s.id),
				logger.String("event", eventName),
				logger.Int("attempts", s.missingRetries))
			s.stop()
			return
		}
		delay := time.Duration(sch.cfg.AssetRetryDelayMs) * time.Millisecond
		s.timer = sch.afterFunc(delay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			sch.startChunkLocked(s, gen)
		})
		return
	}

	if s.missingRetries > 0 {
		// 重试等待期间没有声音输出，分片从当前时刻重新起播
		s.missingRetries = 0
		s.anchor = sch.now()
		s.pausedOffsetMs = 0
	}

	if s.listenerID != "" && sch.gate != nil && !sch.gate.IsListenerEligible(s.listenerID) {
		s.pause(false)
		logger.Debug("听者不可达，自动暂停",
			logger.String("sessionId", s.id),
			logger.String("listenerId", s.listenerID))
		return
	}

	desc, _ := sch.catalog.Descriptor(idx)
	volume := desc.Volume * s.volume

	// 触发动作交给世界执行器串行派发，定时器协程不直接碰世界状态
	if s.pos != nil {
		pos := *s.pos
		sch.executor.Submit(func() {
			sch.emitter.TriggerAt(idx, desc, pos, volume)
		})
	} else {
		listenerID := s.listenerID
		sch.executor.Submit(func() {
			sch.emitter.TriggerForListener(idx, desc, listenerID, volume)
		})
	}

	// 定时到分片边界而非固定间隔，锚点差值吸收调度抖动
	remaining := time.Duration(s.chunkDurationMs-s.offsetInChunkMs()) * time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	s.timer = sch.afterFunc(remaining, func() {
		sch.onChunkBoundary(s, gen)
	})
}

// onChunkBoundary 分片边界定时器回调
// 先校验代数与状态：与 stop 竞速后醒来的失效定时器在这里变成空操作
func (sch *Scheduler) onChunkBoundary(s *session, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != statePlaying || gen != s.generation {
		return
	}
	if s.advanceChunk() {
		sch.startChunkLocked(s, s.generation)
	}
}
