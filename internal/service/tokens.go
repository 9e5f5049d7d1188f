// tokens.go — подписанные токены удаления (HS256 JWT).
// sub — идентификатор слота, jti — случайный идентификатор, exp — срок.
// Срок проверяется по значению из записи слота, подпись и sub — здесь.
package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenIssuer выпускает и проверяет токены удаления.
type tokenIssuer struct {
	secret []byte
}

// newTokenIssuer создаёт выпускающего. Пустой secret — случайный ключ
// на время жизни процесса: токены не переживают рестарт.
func newTokenIssuer(secret string) (*tokenIssuer, error) {
	if secret != "" {
		return &tokenIssuer{secret: []byte(secret)}, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("ошибка генерации ключа токенов: %w", err)
	}
	return &tokenIssuer{secret: key}, nil
}

// Issue выпускает токен удаления слота со сроком expiresAt.
func (t *tokenIssuer) Issue(slotID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   slotID,
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return token, nil
}

// Verify проверяет подпись токена и принадлежность слоту.
// Срок действия не проверяется.
func (t *tokenIssuer) Verify(token, slotID string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("недействительный токен: %w", err)
	}
	if claims.Subject != slotID {
		return errors.New("токен выпущен для другого слота")
	}
	return nil
}
