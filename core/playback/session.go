package playback

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ChunkFM/model"
)

type sessionState int

const (
	stateStopped sessionState = iota
	statePlaying
	statePaused
)

// session 是单个播放目标的状态机
// 字段受 mu 保护，方法均假定调用方已持锁（调度器负责加锁）
type session struct {
	mu sync.Mutex

	id              string // 会话标识，仅用于日志关联
	trackID         string
	chunkCount      int
	chunkDurationMs int64

	// 播放目标，二者互斥：pos 非 nil 为空间目标，否则为听者目标
	pos        *model.Position
	listenerID string

	state        sessionState
	pausedByUser bool
	loop         bool
	volume       float64 // 0~1 音量系数

	chunkIndex     int
	anchor         time.Time // 当前分片起播的墙钟时刻
	pausedOffsetMs int64     // 暂停时在当前分片内的偏移
	pendingSeek    bool      // 停止态下收到过 seek，下次 play 生效

	missingRetries int
	timer          *time.Timer

	// 每次 play/pause/stop 自增，失效的定时器回调据此识别自己已过期
	generation uint64

	now func() time.Time
}

func newSession(trackID string, chunkCount int, chunkDurationMs int64, now func() time.Time) *session {
	return &session{
		id:              uuid.NewString(),
		trackID:         trackID,
		chunkCount:      chunkCount,
		chunkDurationMs: chunkDurationMs,
		volume:          1.0,
		now:             now,
	}
}

func (s *session) totalDurationMs() int64 {
	return int64(s.chunkCount) * s.chunkDurationMs
}

// play 进入播放态
// 常规播放从头开始；停止态下 seek 过的会话从记录的位置开始
func (s *session) play() {
	if !s.pendingSeek {
		s.chunkIndex = 0
		s.pausedOffsetMs = 0
	}
	s.pendingSeek = false
	s.state = statePlaying
	s.pausedByUser = false
	s.anchor = s.now().Add(-time.Duration(s.pausedOffsetMs) * time.Millisecond)
	s.missingRetries = 0
	s.generation++
}

// pause 记录当前分片内偏移并挂起
func (s *session) pause(byUser bool) {
	if s.state != statePlaying {
		return
	}
	s.pausedOffsetMs = s.offsetInChunkMs()
	s.state = statePaused
	s.pausedByUser = byUser
	s.cancelTimer()
	s.generation++
}

// resume 从暂停偏移处重新锚定墙钟
func (s *session) resume() bool {
	if s.state != statePaused {
		return false
	}
	s.state = statePlaying
	s.pausedByUser = false
	s.anchor = s.now().Add(-time.Duration(s.pausedOffsetMs) * time.Millisecond)
	s.generation++
	return true
}

// stop 终止会话并复位所有进度状态
func (s *session) stop() {
	s.state = stateStopped
	s.pausedByUser = false
	s.chunkIndex = 0
	s.pausedOffsetMs = 0
	s.pendingSeek = false
	s.missingRetries = 0
	s.cancelTimer()
	s.generation++
}

// advanceChunk 推进到下一分片，返回是否还有分片可播
// 仅在播放态、分片时长边界处调用
func (s *session) advanceChunk() bool {
	if s.state != statePlaying {
		return false
	}
	if s.chunkIndex < s.chunkCount-1 {
		s.chunkIndex++
		s.reanchor()
		return true
	}
	if s.loop && s.chunkCount > 0 {
		s.chunkIndex = 0
		s.reanchor()
		return true
	}
	s.stop()
	return false
}

// reanchor 按固定分片时长顺延锚点而非取当前时刻
// 这是漂移校正的关键：定时器的触发抖动不会逐分片累积
func (s *session) reanchor() {
	s.anchor = s.anchor.Add(time.Duration(s.chunkDurationMs) * time.Millisecond)
	s.pausedOffsetMs = 0
	if drift := s.now().Sub(s.anchor); drift > time.Duration(s.chunkDurationMs)*time.Millisecond {
		// 落后超过一个分片说明调度长时间停滞，重新对准墙钟
		s.anchor = s.now()
	}
}

// seekToMs 跳转到目标位置，夹取到 [0, totalDurationMs-1]
func (s *session) seekToMs(targetMs int64) {
	total := s.totalDurationMs()
	if total <= 0 {
		return
	}
	if targetMs < 0 {
		targetMs = 0
	}
	if targetMs > total-1 {
		targetMs = total - 1
	}

	s.chunkIndex = int(targetMs / s.chunkDurationMs)
	offset := targetMs % s.chunkDurationMs

	switch s.state {
	case statePlaying:
		s.anchor = s.now().Add(-time.Duration(offset) * time.Millisecond)
		s.pausedOffsetMs = 0
	case statePaused:
		s.pausedOffsetMs = offset
	case stateStopped:
		s.pausedOffsetMs = offset
		s.pendingSeek = true
	}
}

// positionMs 返回当前播放位置
func (s *session) positionMs() int64 {
	switch s.state {
	case stateStopped:
		return 0
	case statePaused:
		return int64(s.chunkIndex)*s.chunkDurationMs + s.pausedOffsetMs
	default:
		pos := int64(s.chunkIndex)*s.chunkDurationMs + s.offsetInChunkMs()
		if total := s.totalDurationMs(); pos > total {
			pos = total
		}
		return pos
	}
}

// offsetInChunkMs 返回当前分片内已播放的毫秒数，夹取到分片时长
func (s *session) offsetInChunkMs() int64 {
	if s.state == statePaused {
		return s.pausedOffsetMs
	}
	elapsed := s.now().Sub(s.anchor).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > s.chunkDurationMs {
		elapsed = s.chunkDurationMs
	}
	return elapsed
}

func (s *session) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// status 生成会话状态快照
func (s *session) status() model.PlaybackStatus {
	st := model.PlaybackStatus{
		IsPlaying:  s.state == statePlaying,
		IsPaused:   s.state == statePaused,
		IsStopped:  s.state == stateStopped,
		PositionMs: s.positionMs(),
		DurationMs: s.totalDurationMs(),
	}
	if st.DurationMs > 0 {
		st.Progress = float64(st.PositionMs) / float64(st.DurationMs)
	}
	return st
}
