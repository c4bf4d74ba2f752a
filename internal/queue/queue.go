// Package queue отделяет прием вебхуков от исполнения сделок. Боевая
// реализация на Redis, in-memory версия используется в тестах.
package queue

import (
	"context"
	"time"
)

const (
	// WebhookQueueKey — единый FIFO-список, через который идут все задания.
	WebhookQueueKey = "webhook:queue"
	// RetryKeyPrefix — префикс счетчиков повторов по заданиям.
	RetryKeyPrefix = "webhook:retry:"
	// ActiveUsersKey — множество пользователей, которых обходит реконсилятор.
	ActiveUsersKey = "bot:active_users"

	// RetryTTL ограничивает жизнь счетчика повторов; задание, застрявшее
	// на час, начинает отсчет заново.
	RetryTTL = time.Hour
)

// Queue — надежный at-least-once FIFO. PopBlocking возвращает ("", nil),
// если таймаут истек без работы; это не ошибка.
type Queue interface {
	Push(ctx context.Context, payload string) error
	PopBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Len(ctx context.Context) (int64, error)
}

// RetryLedger считает попытки исполнения по id задания. Счетчики
// истекают через RetryTTL.
type RetryLedger interface {
	Increment(ctx context.Context, jobID string) (int64, error)
	Clear(ctx context.Context, jobID string) error
}

// ActiveSet хранит пользователей с запущенным ботом.
type ActiveSet interface {
	Add(ctx context.Context, userID string) error
	Remove(ctx context.Context, userID string) error
	Members(ctx context.Context) ([]string, error)
	Contains(ctx context.Context, userID string) (bool, error)
}
