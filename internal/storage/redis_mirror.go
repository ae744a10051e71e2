// internal/storage/redis_mirror.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProgressMirror 将生成进度快照镜像到 Redis，供多实例部署时的轮询端点读取
// addr 为空时返回 nil，所有方法对 nil 接收者安全，镜像失败不影响主流程
type ProgressMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProgressMirror 创建进度镜像，addr 为空则禁用（返回 nil）
func NewProgressMirror(addr, password string) *ProgressMirror {
	if addr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	return &ProgressMirror{
		client: rdb,
		ttl:    24 * time.Hour,
	}
}

// Ping 检查连接可用性
func (m *ProgressMirror) Ping(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.client.Ping(ctx).Err()
}

// progressKey 快照的 Redis 键
func progressKey(jobID string, sceneIndex int) string {
	return fmt.Sprintf("storyboard:progress:%s:%d", jobID, sceneIndex)
}

// PublishProgress 写入进度快照
func (m *ProgressMirror) PublishProgress(ctx context.Context, jobID string, sceneIndex int, snapshot interface{}) error {
	if m == nil {
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("序列化进度快照失败: %w", err)
	}

	return m.client.Set(ctx, progressKey(jobID, sceneIndex), data, m.ttl).Err()
}

// LoadProgress 读取进度快照，不存在时返回 (false, nil)
func (m *ProgressMirror) LoadProgress(ctx context.Context, jobID string, sceneIndex int, v interface{}) (bool, error) {
	if m == nil {
		return false, nil
	}

	data, err := m.client.Get(ctx, progressKey(jobID, sceneIndex)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("解析进度快照失败: %w", err)
	}
	return true, nil
}

// DeleteProgress 删除进度快照
func (m *ProgressMirror) DeleteProgress(ctx context.Context, jobID string, sceneIndex int) error {
	if m == nil {
		return nil
	}
	return m.client.Del(ctx, progressKey(jobID, sceneIndex)).Err()
}

// Close 关闭连接
func (m *ProgressMirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
