package clock

import (
	"sync"
	"time"
)

// Clock 时间源抽象，便于测试中控制时间
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System 返回基于系统时间的Clock（统一使用UTC）
func System() Clock {
	return systemClock{}
}

// Fake 可手动推进的Clock，仅用于测试
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake 创建固定在指定时刻的Fake
func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance 推进时间
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set 直接设置当前时刻
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now.UTC()
}
