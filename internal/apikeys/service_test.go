package apikeys

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"copytrade/internal/exchange"
	"copytrade/internal/vault"
)

type fakeRepo struct {
	keys  map[string]*APIKey // по (user id, exchange)
	valid map[string]bool    // по id ключа
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{keys: map[string]*APIKey{}, valid: map[string]bool{}}
}

func rowKey(userID, exchange string) string { return userID + "/" + exchange }

func (f *fakeRepo) GetActiveByUserID(_ context.Context, userID string) (*APIKey, error) {
	for _, k := range f.keys {
		if k.UserID == userID && k.IsActive {
			return k, nil
		}
	}
	return nil, nil
}

// Save повторяет контракт апсерта: при конфликте строка сохраняет старый id,
// и он возвращается вызывающему через key.ID.
func (f *fakeRepo) Save(_ context.Context, key *APIKey) error {
	rk := rowKey(key.UserID, key.Exchange)
	if existing, ok := f.keys[rk]; ok {
		key.ID = existing.ID
	}
	cp := *key
	f.keys[rk] = &cp
	return nil
}

func (f *fakeRepo) SetValid(_ context.Context, id string, valid bool) error {
	f.valid[id] = valid
	for _, k := range f.keys {
		if k.ID == id {
			k.IsValid = valid
		}
	}
	return nil
}

func (f *fakeRepo) Deactivate(_ context.Context, userID, exchange string) error {
	delete(f.keys, rowKey(userID, exchange))
	return nil
}

type balanceAdapter struct {
	exchange.Adapter
	creds exchange.Credentials
	err   error
}

func (p *balanceAdapter) GetBalance(context.Context) (*exchange.Balance, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &exchange.Balance{TotalBalance: 100}, nil
}

func newService(t *testing.T, repo KeyStore, checkErr error, lastCreds *exchange.Credentials) *Service {
	t.Helper()

	v, err := vault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	factory := func(_ string, creds exchange.Credentials) (exchange.Adapter, error) {
		if lastCreds != nil {
			*lastCreds = creds
		}
		return &balanceAdapter{creds: creds, err: checkErr}, nil
	}
	return NewService(repo, v, factory, zap.NewNop())
}

func TestSaveEncryptsAndValidates(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(t, repo, nil, nil)

	key, err := svc.Save(context.Background(), "u1", "Bybit", "my-key", "my-secret", "")
	require.NoError(t, err)

	assert.Equal(t, "bybit", key.Exchange)
	assert.True(t, key.IsValid)
	assert.True(t, repo.valid[key.ID])

	// Исходные значения в хранилище не попадают.
	stored := repo.keys["u1/bybit"]
	assert.NotEqual(t, "my-key", stored.EncryptedKey)
	assert.NotEqual(t, "my-secret", stored.EncryptedSecret)
	assert.NotContains(t, stored.EncryptedKey, "my-key")
}

func TestSaveKeepsKeyWhenCheckFails(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(t, repo, errors.New("Invalid API-key"), nil)

	key, err := svc.Save(context.Background(), "u1", "binance", "bad-key", "bad-secret", "")
	require.NoError(t, err)

	assert.False(t, key.IsValid)
	assert.NotNil(t, repo.keys["u1/binance"], "key persists even when invalid")
}

func TestResaveRestoresValidity(t *testing.T) {
	repo := newFakeRepo()

	v, err := vault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	var checkErr error = errors.New("Invalid API-key")
	factory := func(string, exchange.Credentials) (exchange.Adapter, error) {
		return &balanceAdapter{err: checkErr}, nil
	}
	svc := NewService(repo, v, factory, zap.NewNop())

	first, err := svc.Save(context.Background(), "u1", "bybit", "old-key", "old-secret", "")
	require.NoError(t, err)
	require.False(t, first.IsValid)

	// Повторное сохранение рабочих ключей должно снять is_valid=false именно
	// с существующей строки: апсерт по конфликту сохраняет её старый id.
	checkErr = nil
	second, err := svc.Save(context.Background(), "u1", "bybit", "new-key", "new-secret", "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsValid)
	assert.True(t, repo.valid[first.ID])
	assert.True(t, repo.keys["u1/bybit"].IsValid)

	_, creds, err := svc.Credentials(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-key", creds.APIKey)
}

func TestCredentialsRoundtrip(t *testing.T) {
	repo := newFakeRepo()
	var got exchange.Credentials
	svc := newService(t, repo, nil, &got)

	_, err := svc.Save(context.Background(), "u1", "bybit", "my-key", "my-secret", "pass")
	require.NoError(t, err)

	name, creds, err := svc.Credentials(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "bybit", name)
	assert.Equal(t, "my-key", creds.APIKey)
	assert.Equal(t, "my-secret", creds.SecretKey)
	assert.Equal(t, "pass", creds.Passphrase)

	// Проверка на бирже при Save тоже получила расшифрованные ключи.
	assert.Equal(t, "my-key", got.APIKey)
}

func TestCredentialsWithoutKey(t *testing.T) {
	svc := newService(t, newFakeRepo(), nil, nil)

	_, _, err := svc.Credentials(context.Background(), "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid api key")
}

func TestRemoveDeactivates(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(t, repo, nil, nil)

	_, err := svc.Save(context.Background(), "u1", "bybit", "k", "s", "")
	require.NoError(t, err)
	require.NoError(t, svc.Remove(context.Background(), "u1", "bybit"))

	_, _, err = svc.Credentials(context.Background(), "u1")
	assert.Error(t, err)
}
