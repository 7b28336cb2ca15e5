package utils

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DownloadFile 下载文件到指定路径
func DownloadFile(url, filepath string) error {
	client := &http.Client{Timeout: 3 * time.Minute}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("下载文件失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("下载文件失败，状态码: %d", resp.StatusCode)
	}

	out, err := os.Create(filepath)
	if err != nil {
		return fmt.Errorf("创建文件失败: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("保存文件失败: %w", err)
	}

	return nil
}

// FileExists 检查文件是否存在且非空
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
