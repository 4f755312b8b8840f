package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer はトークンのissクレームに設定する値。
const tokenIssuer = "kaaryasetu"

// TokenClaims はセッショントークンから取り出した値。
type TokenClaims struct {
	SessionID string
	AccountID string
	ExpiresAt time.Time
}

// TokenIssuer はHS256署名のセッショントークンを発行・検証する。
// jtiにセッションID、subにアカウントIDを格納する。
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	return &TokenIssuer{secret: []byte(secret)}, nil
}

// Issue はセッションに対応するトークンを発行する。
func (t *TokenIssuer) Issue(sessionID, accountID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		Subject:   accountID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse はトークンの署名と有効期限を検証し、クレームを返す。
func (t *TokenIssuer) Parse(token string) (*TokenClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, errors.New("invalid token: missing session claims")
	}

	return &TokenClaims{
		SessionID: claims.ID,
		AccountID: claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
