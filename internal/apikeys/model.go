// Package apikeys управляет зашифрованными биржевыми ключами. Секреты
// хранятся под AES и расшифровываются в памяти только при сборке
// биржевого клиента.
package apikeys

import "time"

type APIKey struct {
	ID                  string
	UserID              string
	Exchange            string
	EncryptedKey        string
	EncryptedSecret     string
	EncryptedPassphrase string // биржи в духе OKX; иначе пусто
	IsActive            bool
	IsValid             bool
	LastCheckedAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
