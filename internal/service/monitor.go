package service

import (
	"sync"
	"time"
)

// Monitor 监控服务，用于统计错误和性能指标
type Monitor struct {
	mu sync.RWMutex

	// 错误统计
	RedisErrors   int64
	MQErrors      int64
	DBErrors      int64
	WebhookErrors int64
	WorkerErrors  int64

	// 业务统计
	WebhookStored     int64
	WebhookDuplicates int64
	WebhookSkipped    int64
	SendSuccess       int64
	SendFailed        int64

	// 时间统计
	LastRedisError  time.Time
	LastMQError     time.Time
	LastDBError     time.Time
	LastWebhookTime time.Time
	LastSendTime    time.Time
}

var globalMonitor = &Monitor{}

// GetMonitor 获取全局监控实例
func GetMonitor() *Monitor {
	return globalMonitor
}

// RecordRedisError 记录Redis错误
func (m *Monitor) RecordRedisError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RedisErrors++
	m.LastRedisError = time.Now()
}

// RecordMQError 记录MQ错误
func (m *Monitor) RecordMQError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MQErrors++
	m.LastMQError = time.Now()
}

// RecordDBError 记录数据库错误
func (m *Monitor) RecordDBError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DBErrors++
	m.LastDBError = time.Now()
}

// RecordWebhookStored 记录 webhook 消息成功落库
func (m *Monitor) RecordWebhookStored() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookStored++
	m.LastWebhookTime = time.Now()
}

// RecordWebhookDuplicate 记录 webhook 重复投递（已存在，本次无副作用）
func (m *Monitor) RecordWebhookDuplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookDuplicates++
	m.LastWebhookTime = time.Now()
}

// RecordWebhookSkipped 记录被跳过的 webhook 条目（缺字段、不识别的类型）
func (m *Monitor) RecordWebhookSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookSkipped++
}

// RecordWebhookFailed 记录 webhook 处理失败
func (m *Monitor) RecordWebhookFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookErrors++
}

// RecordSendSuccess 记录外发成功
func (m *Monitor) RecordSendSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendSuccess++
	m.LastSendTime = time.Now()
}

// RecordSendFailed 记录外发失败
func (m *Monitor) RecordSendFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendFailed++
	m.WorkerErrors++
}

// GetStats 获取统计信息
func (m *Monitor) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dupRate := float64(0)
	totalWebhook := m.WebhookStored + m.WebhookDuplicates
	if totalWebhook > 0 {
		dupRate = float64(m.WebhookDuplicates) / float64(totalWebhook) * 100
	}

	sendSuccessRate := float64(0)
	totalSend := m.SendSuccess + m.SendFailed
	if totalSend > 0 {
		sendSuccessRate = float64(m.SendSuccess) / float64(totalSend) * 100
	}

	return map[string]interface{}{
		"errors": map[string]interface{}{
			"redis":   m.RedisErrors,
			"mq":      m.MQErrors,
			"db":      m.DBErrors,
			"webhook": m.WebhookErrors,
			"worker":  m.WorkerErrors,
		},
		"webhook": map[string]interface{}{
			"stored":         m.WebhookStored,
			"duplicates":     m.WebhookDuplicates,
			"skipped":        m.WebhookSkipped,
			"duplicate_rate": dupRate,
		},
		"outbound": map[string]interface{}{
			"success":      m.SendSuccess,
			"failed":       m.SendFailed,
			"success_rate": sendSuccessRate,
		},
		"last_events": map[string]interface{}{
			"redis_error":  m.LastRedisError,
			"mq_error":     m.LastMQError,
			"db_error":     m.LastDBError,
			"last_webhook": m.LastWebhookTime,
			"last_send":    m.LastSendTime,
		},
	}
}

// Reset 重置统计（用于测试或定期清理）
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RedisErrors = 0
	m.MQErrors = 0
	m.DBErrors = 0
	m.WebhookErrors = 0
	m.WorkerErrors = 0
	m.WebhookStored = 0
	m.WebhookDuplicates = 0
	m.WebhookSkipped = 0
	m.SendSuccess = 0
	m.SendFailed = 0
	m.LastRedisError = time.Time{}
	m.LastMQError = time.Time{}
	m.LastDBError = time.Time{}
	m.LastWebhookTime = time.Time{}
	m.LastSendTime = time.Time{}
}
