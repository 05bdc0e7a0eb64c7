package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// порядок внутри очереди: выше приоритет — меньше score; при равном
// приоритете раньше созданная задача выходит первой
func TestQueueScore_Ordering(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	highEarly := queueScore(10, base)
	highLate := queueScore(10, base.Add(time.Second))
	low := queueScore(0, base)
	negative := queueScore(-10, base)

	assert.Less(t, highEarly, highLate, "FIFO при равном приоритете")
	assert.Less(t, highEarly, low, "приоритет бьёт время создания")
	assert.Less(t, low, negative, "гостевой приоритет уходит в хвост")
}

func TestQueueScore_PriorityDominates(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// даже созданная сутками позже задача с большим приоритетом впереди
	high := queueScore(10, base.Add(48*time.Hour))
	low := queueScore(0, base)
	assert.Less(t, high, low)
}
