package media

import "errors"

// 采集管线各阶段的错误哨兵
// 对单次请求是致命的，但不影响其他 URL 的后续请求
var (
	// ErrMetadataFetch 元数据工具缺失或无法启动
	ErrMetadataFetch = errors.New("metadata tool unavailable")
	// ErrMetadataParse 元数据工具非零退出或输出无法解析
	ErrMetadataParse = errors.New("metadata output unparseable")
	// ErrDownload 下载/转码工具失败或未产出文件
	ErrDownload = errors.New("audio download failed")
	// ErrChunking 切分工具失败或未产出分片
	ErrChunking = errors.New("audio chunking failed")
)
