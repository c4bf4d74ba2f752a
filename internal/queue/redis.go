package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue реализует Queue, RetryLedger и ActiveSet на одном подключении
// к Redis по схеме LPUSH/BRPOP, на которую рассчитаны воркеры.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(addr, password string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Push(ctx context.Context, payload string) error {
	return q.client.LPush(ctx, WebhookQueueKey, payload).Err()
}

// PopBlocking снимает с хвоста списка; продюсеры пишут в голову, так что
// список ведет себя как FIFO. Пустой результат по таймауту — ("", nil).
func (q *RedisQueue) PopBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, WebhookQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// BRPOP возвращает [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}
	return res[1], nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, WebhookQueueKey).Result()
}

func (q *RedisQueue) Increment(ctx context.Context, jobID string) (int64, error) {
	key := RetryKeyPrefix + jobID
	count, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	q.client.Expire(ctx, key, RetryTTL)
	return count, nil
}

func (q *RedisQueue) Clear(ctx context.Context, jobID string) error {
	return q.client.Del(ctx, RetryKeyPrefix+jobID).Err()
}

func (q *RedisQueue) Add(ctx context.Context, userID string) error {
	return q.client.SAdd(ctx, ActiveUsersKey, userID).Err()
}

func (q *RedisQueue) Remove(ctx context.Context, userID string) error {
	return q.client.SRem(ctx, ActiveUsersKey, userID).Err()
}

func (q *RedisQueue) Members(ctx context.Context) ([]string, error) {
	return q.client.SMembers(ctx, ActiveUsersKey).Result()
}

func (q *RedisQueue) Contains(ctx context.Context, userID string) (bool, error) {
	return q.client.SIsMember(ctx, ActiveUsersKey, userID).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
