// Package vault шифрует биржевые API-ключи для хранения. Открытый текст
// не покидает пакет нигде, кроме конструкторов биржевых клиентов.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Vault — симметричное шифрование на общем для процесса ключе AES-256.
type Vault struct {
	key []byte
}

func New(secret string) (*Vault, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Vault{key: []byte(secret)[:32]}, nil
}

// Encrypt возвращает base64(iv || AES-CFB(plaintext)).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}

	b := []byte(plaintext)
	ciphertext := make([]byte, aes.BlockSize+len(b))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], b)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (v *Vault) Decrypt(ciphertextBase64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}

	if len(ciphertext) < aes.BlockSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	iv := ciphertext[:aes.BlockSize]
	ciphertext = ciphertext[aes.BlockSize:]

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(ciphertext, ciphertext)

	return string(ciphertext), nil
}

// GenerateToken возвращает n случайных байт в hex, используется для токенов вебхуков.
func GenerateToken(n int) string {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err) // отказ crypto/rand не восстановим
	}
	return hex.EncodeToString(b)
}
