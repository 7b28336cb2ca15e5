package media

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"ChunkFM/logger"
)

// ToolRunner 外部工具执行接口，测试时用假实现替换
type ToolRunner interface {
	// Run 执行外部命令，阻塞到进程退出，返回 stdout/stderr
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// execToolRunner 基于 os/exec 的默认实现
type execToolRunner struct{}

// NewExecToolRunner 创建默认的外部工具执行器
func NewExecToolRunner() ToolRunner {
	return &execToolRunner{}
}

func (r *execToolRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var out bytes.Buffer
	var errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	logger.Debug("执行外部命令",
		logger.String("tool", name),
		logger.String("args", strings.Join(args, " ")))

	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// stderrExcerpt 截取 stderr 末尾，用于错误上下文
func stderrExcerpt(stderr []byte) string {
	const max = 512
	s := strings.TrimSpace(string(stderr))
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
