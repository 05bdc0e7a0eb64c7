package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/util"
)

// QuotaRepository — быстрый слой квот в Redis: TTL-резервации
// хранилища и суточные счётчики задач.
type QuotaRepository struct {
	client *config.RedisClient
	ttl    time.Duration
}

func NewQuotaRepository(rdb *config.RedisClient, reservationTTL time.Duration) *QuotaRepository {
	if reservationTTL <= 0 {
		reservationTTL = 5 * time.Minute
	}
	return &QuotaRepository{client: rdb, ttl: reservationTTL}
}

func (r *QuotaRepository) sizesKey(principal string) string {
	return fmt.Sprintf("quota:resv:%s", principal)
}

func (r *QuotaRepository) expiryKey(principal string) string {
	return fmt.Sprintf("quota:resv_exp:%s", principal)
}

func dailyKey(principal string, day time.Time) string {
	return fmt.Sprintf("quota:daily:%s:%s", principal, day.UTC().Format("20060102"))
}

// Reserve : однописательный compare-and-set против суммы активных
// резерваций (WATCH/MULTI). Истёкшие резервации утилизируются здесь же,
// следующим вызовом. Превышение квоты — QuotaError STORAGE_FULL.
func (r *QuotaRepository) Reserve(ctx context.Context, principal string, bytes, usedBytes, limitBytes int64) (string, error) {
	reservationID := uuid.New().String()
	sizesKey := r.sizesKey(principal)
	expiryKey := r.expiryKey(principal)

	txf := func(tx *redis.Tx) error {
		now := time.Now()

		sizes, err := tx.HGetAll(ctx, sizesKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		expiries, err := tx.ZRangeWithScores(ctx, expiryKey, 0, -1).Result()
		if err != nil && err != redis.Nil {
			return err
		}

		expired := []string{}
		live := map[string]bool{}
		for _, z := range expiries {
			id := z.Member.(string)
			if int64(z.Score) <= now.Unix() {
				expired = append(expired, id)
			} else {
				live[id] = true
			}
		}

		var reserved int64
		for id, raw := range sizes {
			if !live[id] {
				continue
			}
			n, _ := strconv.ParseInt(raw, 10, 64)
			reserved += n
		}

		if limitBytes != model.Unlimited && usedBytes+reserved+bytes > limitBytes {
			return apperr.NewQuota(apperr.CodeStorageFull,
				fmt.Sprintf("квота исчерпана: занято %d + резерв %d + запрошено %d > лимит %d",
					usedBytes, reserved, bytes, limitBytes))
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(expired) > 0 {
				pipe.HDel(ctx, sizesKey, expired...)
				args := make([]interface{}, len(expired))
				for i, id := range expired {
					args[i] = id
				}
				pipe.ZRem(ctx, expiryKey, args...)
			}
			pipe.HSet(ctx, sizesKey, reservationID, bytes)
			pipe.ZAdd(ctx, expiryKey, redis.Z{
				Score:  float64(now.Add(r.ttl).Unix()),
				Member: reservationID,
			})
			return nil
		})
		return err
	}

	// при конкурентной записи WATCH проигрывает — повторяем
	for attempt := 0; attempt < 5; attempt++ {
		err := r.client.Client.Watch(ctx, txf, sizesKey, expiryKey)
		if err == nil {
			return reservationID, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return "", err
	}
	return "", util.LogError("[QuotaRepository] не удалось зарезервировать квоту", redis.TxFailedErr)
}

// Commit : резервация схлопывается — фактическое использование уже
// учтено строками files, остаётся убрать резерв.
func (r *QuotaRepository) Commit(ctx context.Context, principal, reservationID string) error {
	return r.drop(ctx, principal, reservationID)
}

// Release : освобождает резервацию без учёта использования.
func (r *QuotaRepository) Release(ctx context.Context, principal, reservationID string) error {
	return r.drop(ctx, principal, reservationID)
}

func (r *QuotaRepository) drop(ctx context.Context, principal, reservationID string) error {
	pipe := r.client.Client.TxPipeline()
	pipe.HDel(ctx, r.sizesKey(principal), reservationID)
	pipe.ZRem(ctx, r.expiryKey(principal), reservationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return util.LogError("[QuotaRepository] не удалось снять резервацию", err)
	}
	return nil
}

func (r *QuotaRepository) ReservedTotal(ctx context.Context, principal string) (int64, error) {
	now := time.Now().Unix()
	live, err := r.client.Client.ZRangeByScore(ctx, r.expiryKey(principal), &redis.ZRangeBy{
		Min: strconv.FormatInt(now+1, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	if len(live) == 0 {
		return 0, nil
	}

	sizes, err := r.client.Client.HMGet(ctx, r.sizesKey(principal), live...).Result()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, raw := range sizes {
		if s, ok := raw.(string); ok {
			n, _ := strconv.ParseInt(s, 10, 64)
			total += n
		}
	}
	return total, nil
}

// IncrDailyJobs : суточный счётчик с истечением в полночь UTC.
func (r *QuotaRepository) IncrDailyJobs(ctx context.Context, principal string, day time.Time) (int64, error) {
	key := dailyKey(principal, day)
	midnight := day.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)

	pipe := r.client.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, midnight)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, util.LogError("[QuotaRepository] не удалось увеличить суточный счётчик", err)
	}
	return incr.Val(), nil
}

func (r *QuotaRepository) GetDailyJobs(ctx context.Context, principal string, day time.Time) (int64, error) {
	val, err := r.client.Client.Get(ctx, dailyKey(principal, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// ResetDailyCounters : принудительное обнуление всех суточных счётчиков
// (штатно ключи истекают сами — задача идемпотентна).
func (r *QuotaRepository) ResetDailyCounters(ctx context.Context) (int64, error) {
	var deleted int64
	iter := r.client.Client.Scan(ctx, 0, "quota:daily:*", 500).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Client.Del(ctx, iter.Val()).Err(); err == nil {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
