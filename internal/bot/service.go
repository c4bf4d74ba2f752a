package bot

import (
	"context"

	"go.uber.org/zap"

	"copytrade/internal/queue"
)

// SettingsStore — слой хранения, который нужен сервису.
type SettingsStore interface {
	GetByUserID(ctx context.Context, userID string) (*Settings, error)
	Upsert(ctx context.Context, settings *Settings) error
	SetEnabled(ctx context.Context, userID string, enabled bool) error
	ListEligibleUserIDs(ctx context.Context) ([]string, error)
}

// Service держит множество активных пользователей в Redis синхронным с
// флагом is_enabled, чтобы реконсилятор обходил только запущенных ботов.
type Service struct {
	repo        SettingsStore
	active      queue.ActiveSet
	leverageCap int
	log         *zap.Logger
}

func NewService(repo SettingsStore, active queue.ActiveSet, leverageCap int, log *zap.Logger) *Service {
	return &Service{repo: repo, active: active, leverageCap: leverageCap, log: log}
}

// Get возвращает настройки пользователя или дефолтные, если их еще нет.
func (s *Service) Get(ctx context.Context, userID string) (*Settings, error) {
	settings, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return DefaultSettings(userID), nil
	}
	return settings, nil
}

// Update валидирует и сохраняет настройки, затем синхронизирует активное множество.
func (s *Service) Update(ctx context.Context, settings *Settings) error {
	if err := settings.Validate(s.leverageCap); err != nil {
		return err
	}
	if err := s.repo.Upsert(ctx, settings); err != nil {
		return err
	}
	return s.syncActive(ctx, settings.UserID, settings.IsEnabled)
}

// SetEnabled включает и выключает бота, не трогая остальные настройки.
func (s *Service) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	if err := s.repo.SetEnabled(ctx, userID, enabled); err != nil {
		return err
	}
	return s.syncActive(ctx, userID, enabled)
}

func (s *Service) syncActive(ctx context.Context, userID string, enabled bool) error {
	var err error
	if enabled {
		err = s.active.Add(ctx, userID)
	} else {
		err = s.active.Remove(ctx, userID)
	}
	if err != nil {
		s.log.Error("failed to sync active user set",
			zap.String("userId", userID),
			zap.Bool("enabled", enabled),
			zap.Error(err))
	}
	return err
}

// RestoreActiveSet восстанавливает активное множество из базы при старте.
func (s *Service) RestoreActiveSet(ctx context.Context) error {
	ids, err := s.repo.ListEligibleUserIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.active.Add(ctx, id); err != nil {
			return err
		}
	}
	s.log.Info("restored active user set", zap.Int("users", len(ids)))
	return nil
}

// DefaultSettings — настройки, с которыми пользователь торгует до первого сохранения.
func DefaultSettings(userID string) *Settings {
	return &Settings{
		UserID:            userID,
		IsEnabled:         false,
		MaxPositions:      5,
		DefaultLeverage:   3,
		MaxLeverage:       10,
		RiskPerTrade:      2,
		StopLossPercent:   5,
		TakeProfitPercent: 10,
	}
}
