package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/util"
)

const (
	keyQueuePrefix = "queue:"
	keyDelayed     = "queue:delayed"
)

// RedisJobQueue — две логические очереди поверх ZSET.
// Score = -priority * 1e12 + createdAt(мс): сначала больший приоритет,
// внутри приоритета FIFO. BZPOPMIN опрашивает high_priority раньше default.
type RedisJobQueue struct {
	client *config.RedisClient
}

func NewRedisJobQueue(rdb *config.RedisClient) *RedisJobQueue {
	return &RedisJobQueue{client: rdb}
}

func queueKey(queue string) string {
	return keyQueuePrefix + queue
}

func queueScore(priority int, createdAt time.Time) float64 {
	return float64(-priority)*1e12 + float64(createdAt.UnixMilli())
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, queue, jobUUID string, priority int, createdAt time.Time) error {
	err := q.client.Client.ZAdd(ctx, queueKey(queue), redis.Z{
		Score:  queueScore(priority, createdAt),
		Member: jobUUID,
	}).Err()
	if err != nil {
		return util.LogError("[RedisJobQueue] не удалось поставить задачу в очередь", err)
	}
	return nil
}

// Dequeue : блокируется до pollTimeout; пустая выборка — ("", nil).
func (q *RedisJobQueue) Dequeue(ctx context.Context, pollTimeout time.Duration) (string, error) {
	res, err := q.client.Client.BZPopMin(ctx, pollTimeout,
		queueKey(model.QueueHighPriority), queueKey(model.QueueDefault)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	jobUUID, ok := res.Member.(string)
	if !ok {
		return "", fmt.Errorf("[RedisJobQueue] неожиданный тип элемента очереди: %T", res.Member)
	}
	return jobUUID, nil
}

// Remove : выдёргивает задачу из очереди (отмена до захвата воркером).
// false — задачи в очереди уже нет, её забрал воркер.
func (q *RedisJobQueue) Remove(ctx context.Context, queue, jobUUID string) (bool, error) {
	n, err := q.client.Client.ZRem(ctx, queueKey(queue), jobUUID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScheduleRetry : отложенный набор; member кодирует очередь и приоритет,
// чтобы PromoteDue вернул задачу на прежнее место.
func (q *RedisJobQueue) ScheduleRetry(ctx context.Context, queue, jobUUID string, priority int, readyAt time.Time) error {
	member := fmt.Sprintf("%s|%d|%s", queue, priority, jobUUID)
	err := q.client.Client.ZAdd(ctx, keyDelayed, redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: member,
	}).Err()
	if err != nil {
		return util.LogError("[RedisJobQueue] не удалось отложить ретрай", err)
	}
	return nil
}

// CancelRetry : убирает отложенный ретрай (досрочный запуск или отмена).
// Member собирается так же, как в ScheduleRetry.
func (q *RedisJobQueue) CancelRetry(ctx context.Context, queue, jobUUID string, priority int) (bool, error) {
	member := fmt.Sprintf("%s|%d|%s", queue, priority, jobUUID)
	n, err := q.client.Client.ZRem(ctx, keyDelayed, member).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PromoteDue : переносит созревшие отложенные задачи обратно в очереди.
// Вызывается планировщиком раз в несколько секунд.
func (q *RedisJobQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.Client.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}

	promoted := 0
	for _, member := range due {
		parts := strings.SplitN(member, "|", 3)
		if len(parts) != 3 {
			q.client.Client.ZRem(ctx, keyDelayed, member)
			continue
		}
		queue, jobUUID := parts[0], parts[2]
		priority, _ := strconv.Atoi(parts[1])

		pipe := q.client.Client.TxPipeline()
		pipe.ZAdd(ctx, queueKey(queue), redis.Z{
			Score:  queueScore(priority, now),
			Member: jobUUID,
		})
		pipe.ZRem(ctx, keyDelayed, member)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, util.LogError("[RedisJobQueue] не удалось вернуть задачу из отложенных", err)
		}
		promoted++
	}
	return promoted, nil
}

func (q *RedisJobQueue) Stats(ctx context.Context) (map[string]int64, error) {
	pipe := q.client.Client.Pipeline()
	high := pipe.ZCard(ctx, queueKey(model.QueueHighPriority))
	def := pipe.ZCard(ctx, queueKey(model.QueueDefault))
	delayed := pipe.ZCard(ctx, keyDelayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return map[string]int64{
		model.QueueHighPriority: high.Val(),
		model.QueueDefault:      def.Val(),
		"delayed":               delayed.Val(),
	}, nil
}
