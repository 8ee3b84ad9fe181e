// Package queue 限制同時送往 AI 提供者的請求數量
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/infrastructure/config"
	"recipe-modifier/internal/pkg/common"
)

// ErrClosed 隊列已關閉
var ErrClosed = errors.New("queue manager is closed")

// Request 隊列請求
type Request struct {
	ctx    context.Context
	req    *provider.Request
	result chan Result
}

// Result 處理結果
type Result struct {
	Response *provider.Response
	Error    error
}

// Status 隊列狀態
type Status struct {
	QueueLength    int `json:"queue_length"`
	ProcessedCount int `json:"processed_count"`
	MaxQueueSize   int `json:"max_queue_size"`
	Workers        int `json:"workers"`
}

// Manager 以固定數量的 worker 呼叫提供者，本身也實作 provider.Provider
type Manager struct {
	provider provider.Provider
	workers  int
	maxSize  int

	queue     chan *Request
	done      chan struct{}
	processed atomic.Int64
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ provider.Provider = (*Manager)(nil)

// NewManager 創建隊列管理器並啟動 worker
func NewManager(p provider.Provider, cfg config.QueueConfig) *Manager {
	workers, maxSize := cfg.Workers, cfg.MaxSize
	if workers <= 0 {
		workers = 1
	}
	if maxSize <= 0 {
		maxSize = workers
	}

	m := &Manager{
		provider: p,
		workers:  workers,
		maxSize:  maxSize,
		queue:    make(chan *Request, maxSize),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case r := <-m.queue:
			// 排隊期間已取消的請求不再送出
			if err := r.ctx.Err(); err != nil {
				r.result <- Result{Error: err}
				continue
			}
			resp, err := m.provider.Generate(r.ctx, r.req)
			m.processed.Add(1)
			r.result <- Result{Response: resp, Error: err}
		}
	}
}

// Generate 將請求加入隊列並等待結果，隊列已滿時回傳 ErrTooManyRequests
func (m *Manager) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}

	r := &Request{ctx: ctx, req: req, result: make(chan Result, 1)}
	select {
	case m.queue <- r:
		common.LogDebug("Request enqueued",
			zap.Int("queue_length", len(m.queue)),
			zap.Int("max_queue_size", m.maxSize),
		)
	default:
		common.LogWarn("AI request queue is full", zap.Int("max_queue_size", m.maxSize))
		return nil, common.ErrTooManyRequests.Wrap(errors.New("AI request queue is full"))
	}

	select {
	case res := <-r.result:
		return res.Response, res.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrClosed
	}
}

// GetModel 回傳底層提供者的模型
func (m *Manager) GetModel() string {
	return m.provider.GetModel()
}

// GetTimeout 回傳底層提供者的超時
func (m *Manager) GetTimeout() time.Duration {
	return m.provider.GetTimeout()
}

// GetQueueStatus 獲取隊列狀態
func (m *Manager) GetQueueStatus() *Status {
	return &Status{
		QueueLength:    len(m.queue),
		ProcessedCount: int(m.processed.Load()),
		MaxQueueSize:   m.maxSize,
		Workers:        m.workers,
	}
}

// Close 停止 worker 並關閉底層提供者
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		err = m.provider.Close()
	})
	return err
}
