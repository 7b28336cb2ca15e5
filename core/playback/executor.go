package playback

import (
	"sync"

	"ChunkFM/logger"
)

// WorldExecutor 把触碰世界状态的副作用收拢到单个协程串行执行
// 定时器回调在各自的协程里算好"要做什么"，实际触发动作必须经由这里派发
type WorldExecutor struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// NewWorldExecutor 创建并启动世界执行器
func NewWorldExecutor() *WorldExecutor {
	e := &WorldExecutor{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *WorldExecutor) run() {
	for {
		select {
		case task := <-e.tasks:
			task()
		case <-e.done:
			// 退出前清空已入队的任务
			for {
				select {
				case task := <-e.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Submit 提交一个任务，队列满时丢弃并告警
// 定时器回调不允许阻塞，丢一次触发好过拖垮整个调度
func (e *WorldExecutor) Submit(task func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	select {
	case e.tasks <- task:
		return true
	default:
		logger.Warn("世界执行器队列已满，丢弃触发任务")
		return false
	}
}

// Stop 停止执行器，已入队的任务会先执行完
func (e *WorldExecutor) Stop() {
	e.once.Do(func() {
		close(e.done)
	})
}
