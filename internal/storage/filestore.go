package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// SnapshotStore 基于JSON文件的状态快照存储
// 每次保存整体重写，通过临时文件+重命名保证原子性
// 加载失败（文件缺失或损坏）时回退空默认值，绝不向上抛解析错误
type SnapshotStore struct {
	path   string
	logger *zap.Logger
}

// NewSnapshotStore 创建快照存储
func NewSnapshotStore(path string, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{
		path:   path,
		logger: logger.With(zap.String("component", "snapshot_store"), zap.String("path", path)),
	}
}

// Path 返回快照文件路径
func (s *SnapshotStore) Path() string {
	return s.path
}

// Load 将快照反序列化到dest
// 返回是否成功加载；文件不存在或内容损坏时返回false，调用方使用零值默认
func (s *SnapshotStore) Load(dest interface{}) bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("读取快照文件失败，使用空默认值", zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("快照文件损坏，使用空默认值", zap.Error(err))
		return false
	}
	return true
}

// Save 将src序列化并原子写入快照文件
func (s *SnapshotStore) Save(src interface{}) error {
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建快照目录失败: %w", err)
	}

	// 先写临时文件再重命名，避免中途崩溃留下半写状态
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入快照失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换快照文件失败: %w", err)
	}
	return nil
}
