package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"sprintwatch/internal/platform/config"
)

type Claims struct {
	OrganizationID string   `json:"oid"`
	Scopes         []string `json:"scp"`
	jwt.RegisteredClaims
}

// TokenService issues and validates the management API's session
// tokens. Provider credentials are a separate concern handled by the
// token store.
type TokenService struct {
	config config.JWTConfig
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{config: cfg}
}

func (s *TokenService) GenerateAccessToken(orgID string, scopes []string) (string, error) {
	ttl := s.config.AccessTokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := Claims{
		OrganizationID: orgID,
		Scopes:         scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "sprintwatch",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
