package config

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"qtech-backend/internal/models"
)

type JWTClaims struct {
	UserID int64       `json:"user_id"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the identity the queue core acts for.
func (c *JWTClaims) Principal() models.Principal {
	return models.Principal{UserID: c.UserID, Role: c.Role}
}

// TokenIssuer signs and validates HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(cfg JWTConfig) *TokenIssuer {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(cfg.Secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) GenerateToken(u models.User) (string, error) {
	now := t.now()
	claims := JWTClaims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

func (t *TokenIssuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.UserID == 0 || claims.Role == "" {
			return nil, errors.New("token missing subject")
		}
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}
