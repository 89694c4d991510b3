// Package coinlist 维护交易黑名单
// 默认全部放行，被拉黑的币种不参与信号处理与开仓
package coinlist

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/storage"
)

// Entry 黑名单条目
type Entry struct {
	Coin    string    `json:"coin"`
	AddedAt time.Time `json:"added_at"`
	Reason  string    `json:"reason,omitempty"`
}

// listData 持久化结构
type listData struct {
	Blacklist []Entry `json:"blacklist"`
	Mode      string  `json:"mode"`
}

// Manager 黑名单管理器
type Manager struct {
	logger *zap.Logger
	store  *storage.SnapshotStore
	clock  clock.Clock

	mu   sync.RWMutex
	data listData
}

// NewManager 创建管理器并加载持久化黑名单，文件损坏时从空白开始
func NewManager(store *storage.SnapshotStore, clk clock.Clock, logger *zap.Logger) *Manager {
	m := &Manager{
		logger: logger.With(zap.String("component", "coinlist")),
		store:  store,
		clock:  clk,
	}
	if !store.Load(&m.data) || m.data.Mode == "" {
		m.data.Mode = "blacklist"
	}
	return m
}

// IsAllowed 币种是否允许交易
func (m *Manager) IsAllowed(coin string) bool {
	return !m.IsBlacklisted(coin)
}

// IsBlacklisted 币种是否在黑名单中
func (m *Manager) IsBlacklisted(coin string) bool {
	coin = normalizeCoin(coin)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.data.Blacklist {
		if e.Coin == coin {
			return true
		}
	}
	return false
}

// Blacklist 返回黑名单副本
func (m *Manager) Blacklist() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.data.Blacklist))
	copy(out, m.data.Blacklist)
	return out
}

// Add 拉黑币种，已存在时返回false
func (m *Manager) Add(coin, reason string) bool {
	coin = normalizeCoin(coin)
	if coin == "" || m.IsBlacklisted(coin) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Blacklist = append(m.data.Blacklist, Entry{
		Coin:    coin,
		AddedAt: m.clock.Now(),
		Reason:  reason,
	})
	m.save()
	m.logger.Info("币种加入黑名单", zap.String("coin", coin), zap.String("reason", reason))
	return true
}

// Remove 移出黑名单，不存在时返回false
func (m *Manager) Remove(coin string) bool {
	coin = normalizeCoin(coin)
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.data.Blacklist[:0]
	removed := false
	for _, e := range m.data.Blacklist {
		if e.Coin == coin {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return false
	}

	m.data.Blacklist = kept
	m.save()
	m.logger.Info("币种移出黑名单", zap.String("coin", coin))
	return true
}

// 调用方必须持有m.mu
func (m *Manager) save() {
	if err := m.store.Save(&m.data); err != nil {
		m.logger.Error("保存黑名单失败", zap.Error(err))
	}
}

func normalizeCoin(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin))
}
