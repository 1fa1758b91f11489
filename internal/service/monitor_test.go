package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_RecordsCountersAndTimestamps(t *testing.T) {
	m := &Monitor{}

	m.RecordWebhookStored()
	m.RecordWebhookDuplicate()
	m.RecordSendSuccess()
	m.RecordRedisError()

	assert.EqualValues(t, 1, m.WebhookStored)
	assert.EqualValues(t, 1, m.WebhookDuplicates)
	assert.EqualValues(t, 1, m.SendSuccess)
	assert.EqualValues(t, 1, m.RedisErrors)
	assert.False(t, m.LastWebhookTime.IsZero())
	assert.False(t, m.LastSendTime.IsZero())
	assert.False(t, m.LastRedisError.IsZero())

	stats := m.GetStats()
	webhook := stats["webhook"].(map[string]interface{})
	assert.EqualValues(t, 1, webhook["stored"])
	assert.Equal(t, float64(50), webhook["duplicate_rate"])
}

func TestMonitor_ResetClearsTimestamps(t *testing.T) {
	m := &Monitor{}

	m.RecordWebhookStored()
	m.RecordSendSuccess()
	m.RecordMQError()

	m.Reset()

	assert.EqualValues(t, 0, m.WebhookStored)
	assert.EqualValues(t, 0, m.SendSuccess)
	assert.EqualValues(t, 0, m.MQErrors)
	// 计数清零后时间戳也要一并清掉，否则 /api/stats 会报告过期的末次事件时间
	assert.True(t, m.LastWebhookTime.IsZero())
	assert.True(t, m.LastSendTime.IsZero())
	assert.True(t, m.LastMQError.IsZero())
	assert.True(t, m.LastRedisError.IsZero())
	assert.True(t, m.LastDBError.IsZero())
}
