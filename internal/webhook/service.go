package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"copytrade/internal/metrics"
	"copytrade/internal/queue"
	"copytrade/internal/vault"
)

var (
	ErrInvalidToken    = errors.New("invalid webhook token")
	ErrWebhookDisabled = errors.New("webhook is disabled")
)

// LogStore и ConfigStore повторяют интерфейсы репозиториев сервиса.
type LogStore interface {
	Create(ctx context.Context, log *Log) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Log, error)
	ListAll(ctx context.Context, limit, offset int) ([]*Log, error)
}

type ConfigStore interface {
	GetByUserID(ctx context.Context, userID string) (*Config, error)
	GetByUserAndToken(ctx context.Context, userID, token string) (*Config, error)
	Create(ctx context.Context, cfg *Config) error
	RegenerateToken(ctx context.Context, userID, token string) error
	MarkTriggered(ctx context.Context, id string) error
	SetActive(ctx context.Context, userID string, active bool) error
}

// UserDirectory отвечает, кому разлетается broadcast-сигнал и активен ли
// еще владелец персонального эндпоинта.
type UserDirectory interface {
	ListEligibleUserIDs(ctx context.Context) ([]string, error)
	IsUserActive(ctx context.Context, userID string) (bool, error)
}

// PriceFunc отдает текущую mark price символа. Ею штампуются broadcast
// open-сигналы, пришедшие без entry price.
type PriceFunc func(ctx context.Context, symbol string) (float64, error)

// FanoutResult — то, что эндпоинт приема возвращает отправителю.
type FanoutResult struct {
	LogID       string
	UsersQueued int
}

// Service валидирует входящие сигналы, пишет их в лог и ставит по заданию
// на целевого пользователя. Прием никогда не торгует синхронно.
type Service struct {
	logs    LogStore
	configs ConfigStore
	users   UserDirectory
	queue   queue.Queue

	systemToken string
	markPrice   PriceFunc
	validate    *validator.Validate
	log         *zap.Logger
}

func NewService(logs LogStore, configs ConfigStore, users UserDirectory, q queue.Queue, systemToken string, markPrice PriceFunc, log *zap.Logger) *Service {
	return &Service{
		logs:        logs,
		configs:     configs,
		users:       users,
		queue:       q,
		systemToken: systemToken,
		markPrice:   markPrice,
		validate:    validator.New(),
		log:         log,
	}
}

// ParsePayload разбирает и валидирует сырое тело сигнала.
func (s *Service) ParsePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if err := s.validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &p, nil
}

// ProcessSystemWebhook обрабатывает broadcast-сигнал: строка лога под
// системным пользователем плюс PENDING-лог и задание на каждого
// подходящего пользователя.
func (s *Service) ProcessSystemWebhook(ctx context.Context, token string, raw []byte) (*FanoutResult, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.systemToken)) != 1 {
		return nil, ErrInvalidToken
	}
	payload, err := s.ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	// Устаревшие buy/sell принимаются только на персональных эндпоинтах:
	// широковещательный сигнал обязан называть действие явно.
	if payload.Action == ActionBuy || payload.Action == ActionSell {
		return nil, fmt.Errorf("invalid webhook payload: action %q is not allowed for system webhooks", payload.Action)
	}
	metrics.WebhooksReceivedTotal.WithLabelValues("system", "accepted").Inc()

	// Цена штампуется при приеме: системный лог фиксирует, сколько стоил
	// сигнал, даже если исполнение у пользователей запоздает.
	if payload.Action == ActionOpen && payload.EntryPrice == 0 && s.markPrice != nil {
		if price, err := s.markPrice(ctx, payload.Symbol); err == nil {
			payload.EntryPrice = price
		} else {
			s.log.Warn("failed to stamp entry price",
				zap.String("symbol", payload.Symbol), zap.Error(err))
		}
	}

	systemLog := s.newLog(SystemUserID, payload, raw, true)
	systemLog.Status = StatusSuccess
	if err := s.logs.Create(ctx, systemLog); err != nil {
		return nil, err
	}

	userIDs, err := s.users.ListEligibleUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	queued := 0
	for _, userID := range userIDs {
		if err := s.enqueue(ctx, userID, payload, raw, true); err != nil {
			s.log.Error("failed to enqueue user job",
				zap.String("userId", userID), zap.Error(err))
			continue
		}
		queued++
	}
	metrics.WebhookFanoutUsers.Observe(float64(queued))
	s.log.Info("system webhook fanned out",
		zap.String("action", payload.Action),
		zap.String("symbol", payload.Symbol),
		zap.Int("usersQueued", queued))

	return &FanoutResult{LogID: systemLog.ID, UsersQueued: queued}, nil
}

// ProcessUserWebhook обрабатывает сигнал на персональный эндпоинт одного
// пользователя.
func (s *Service) ProcessUserWebhook(ctx context.Context, userID, token string, raw []byte) (*FanoutResult, error) {
	cfg, err := s.configs.GetByUserAndToken(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrInvalidToken
	}
	if !cfg.IsActive {
		return nil, ErrWebhookDisabled
	}
	active, err := s.users.IsUserActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrWebhookDisabled
	}
	payload, err := s.ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	metrics.WebhooksReceivedTotal.WithLabelValues("user", "accepted").Inc()

	if err := s.configs.MarkTriggered(ctx, cfg.ID); err != nil {
		s.log.Warn("failed to bump trigger count",
			zap.String("userId", userID), zap.Error(err))
	}
	if err := s.enqueue(ctx, userID, payload, raw, false); err != nil {
		return nil, err
	}
	return &FanoutResult{UsersQueued: 1}, nil
}

func (s *Service) enqueue(ctx context.Context, userID string, payload *Payload, raw []byte, system bool) error {
	l := s.newLog(userID, payload, raw, system)
	if err := s.logs.Create(ctx, l); err != nil {
		return err
	}
	job := Job{
		LogID:           l.ID,
		UserID:          userID,
		Payload:         *payload,
		IsSystemWebhook: system,
		Timestamp:       time.Now().UnixMilli(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.queue.Push(ctx, string(data))
}

func (s *Service) newLog(userID string, payload *Payload, raw []byte, system bool) *Log {
	return &Log{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    payload.Action,
		Symbol:    payload.Symbol,
		Payload:   raw,
		Status:    StatusPending,
		IsSystem:  system,
		CreatedAt: time.Now(),
	}
}

// GetOrCreateConfig возвращает конфиг вебхука пользователя, при первом
// обращении создает его.
func (s *Service) GetOrCreateConfig(ctx context.Context, userID string) (*Config, error) {
	cfg, err := s.configs.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	cfg = &Config{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     vault.GenerateToken(32),
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.configs.Create(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RegenerateToken меняет токен вебхука, старый URL перестает работать.
func (s *Service) RegenerateToken(ctx context.Context, userID string) (string, error) {
	if _, err := s.GetOrCreateConfig(ctx, userID); err != nil {
		return "", err
	}
	token := vault.GenerateToken(32)
	if err := s.configs.RegenerateToken(ctx, userID, token); err != nil {
		return "", err
	}
	return token, nil
}

// SetActive включает или выключает персональный эндпоинт.
func (s *Service) SetActive(ctx context.Context, userID string, active bool) error {
	if _, err := s.GetOrCreateConfig(ctx, userID); err != nil {
		return err
	}
	return s.configs.SetActive(ctx, userID, active)
}

// Logs возвращает историю исполнения пользователя, новые первыми.
func (s *Service) Logs(ctx context.Context, userID string, limit, offset int) ([]*Log, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.logs.ListByUser(ctx, userID, limit, offset)
}

// AllLogs — админский аудит по всем пользователям.
func (s *Service) AllLogs(ctx context.Context, limit, offset int) ([]*Log, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	return s.logs.ListAll(ctx, limit, offset)
}
