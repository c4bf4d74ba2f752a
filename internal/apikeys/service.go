package apikeys

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"copytrade/internal/exchange"
	"copytrade/internal/vault"
)

// KeyStore — слой хранения, который нужен сервису.
type KeyStore interface {
	GetActiveByUserID(ctx context.Context, userID string) (*APIKey, error)
	Save(ctx context.Context, key *APIKey) error
	SetValid(ctx context.Context, id string, valid bool) error
	Deactivate(ctx context.Context, userID, exchange string) error
}

// Service шифрует ключи для хранения и проверяет их на бирже запросом
// баланса, прежде чем пометить пригодными.
type Service struct {
	repo    KeyStore
	vault   *vault.Vault
	factory exchange.Factory
	log     *zap.Logger
}

func NewService(repo KeyStore, v *vault.Vault, factory exchange.Factory, log *zap.Logger) *Service {
	return &Service{repo: repo, vault: v, factory: factory, log: log}
}

// Save шифрует и сохраняет ключи, затем проверяет их на бирже. При
// неудачной проверке ключ сохраняется, но помечается невалидным.
func (s *Service) Save(ctx context.Context, userID, exchangeName, apiKey, secret, passphrase string) (*APIKey, error) {
	exchangeName = strings.ToLower(exchangeName)

	encKey, err := s.vault.Encrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt api key: %w", err)
	}
	encSecret, err := s.vault.Encrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt api secret: %w", err)
	}
	var encPassphrase string
	if passphrase != "" {
		if encPassphrase, err = s.vault.Encrypt(passphrase); err != nil {
			return nil, fmt.Errorf("encrypt passphrase: %w", err)
		}
	}

	key := &APIKey{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Exchange:            exchangeName,
		EncryptedKey:        encKey,
		EncryptedSecret:     encSecret,
		EncryptedPassphrase: encPassphrase,
		IsActive:            true,
	}
	if err := s.repo.Save(ctx, key); err != nil {
		return nil, err
	}

	valid, checkErr := s.checkKey(ctx, exchangeName, exchange.Credentials{
		APIKey: apiKey, SecretKey: secret, Passphrase: passphrase,
	})
	if err := s.repo.SetValid(ctx, key.ID, valid); err != nil {
		return nil, err
	}
	key.IsValid = valid
	now := time.Now()
	key.LastCheckedAt = &now
	if checkErr != nil {
		s.log.Warn("api key validation failed",
			zap.String("userId", userID),
			zap.String("exchange", exchangeName),
			zap.Error(checkErr))
	}
	return key, nil
}

// Verify перепроверяет активный ключ пользователя и обновляет флаг валидности.
func (s *Service) Verify(ctx context.Context, userID string) (bool, error) {
	key, err := s.repo.GetActiveByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	if key == nil {
		return false, fmt.Errorf("no valid api key for user %s", userID)
	}
	creds, err := s.decrypt(key)
	if err != nil {
		return false, err
	}
	valid, _ := s.checkKey(ctx, key.Exchange, creds)
	if err := s.repo.SetValid(ctx, key.ID, valid); err != nil {
		return valid, err
	}
	return valid, nil
}

// Remove деактивирует ключ пользователя для указанной биржи.
func (s *Service) Remove(ctx context.Context, userID, exchangeName string) error {
	return s.repo.Deactivate(ctx, userID, strings.ToLower(exchangeName))
}

// Credentials расшифровывает активный ключ пользователя для торговли.
// Отсюда движок берет ключи.
func (s *Service) Credentials(ctx context.Context, userID string) (string, exchange.Credentials, error) {
	key, err := s.repo.GetActiveByUserID(ctx, userID)
	if err != nil {
		return "", exchange.Credentials{}, err
	}
	if key == nil {
		return "", exchange.Credentials{}, fmt.Errorf("no valid api key for user %s", userID)
	}
	creds, err := s.decrypt(key)
	if err != nil {
		return "", exchange.Credentials{}, err
	}
	return key.Exchange, creds, nil
}

func (s *Service) decrypt(key *APIKey) (exchange.Credentials, error) {
	apiKey, err := s.vault.Decrypt(key.EncryptedKey)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("decrypt api key: %w", err)
	}
	secret, err := s.vault.Decrypt(key.EncryptedSecret)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("decrypt api secret: %w", err)
	}
	creds := exchange.Credentials{APIKey: apiKey, SecretKey: secret}
	if key.EncryptedPassphrase != "" {
		if creds.Passphrase, err = s.vault.Decrypt(key.EncryptedPassphrase); err != nil {
			return exchange.Credentials{}, fmt.Errorf("decrypt passphrase: %w", err)
		}
	}
	return creds, nil
}

func (s *Service) checkKey(ctx context.Context, exchangeName string, creds exchange.Credentials) (bool, error) {
	adapter, err := s.factory(exchangeName, creds)
	if err != nil {
		return false, err
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := adapter.GetBalance(checkCtx); err != nil {
		return false, err
	}
	return true, nil
}
