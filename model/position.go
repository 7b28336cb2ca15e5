package model

import "fmt"

// positionKey 将空间坐标规整为会话键
// 坐标保留两位小数，避免浮点噪声产生不同的键
func positionKey(x, y, z float64) string {
	return fmt.Sprintf("pos:%.2f:%.2f:%.2f", x, y, z)
}
