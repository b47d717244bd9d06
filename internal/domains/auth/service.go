// Package auth issues and validates the bearer tokens that identify
// streaming actors.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/types"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims represents JWT claims
type Claims struct {
	ActorID   string `json:"actorId"`
	ActorType string `json:"actorType"`
	jwt.RegisteredClaims
}

// TokenService validates inbound bearer tokens and mints service tokens.
type TokenService interface {
	ValidateToken(tokenString string) (*Claims, error)
	IssueToken(actor types.Actor) (string, time.Time, error)
}

type tokenService struct {
	jwtSecret string
	tokenTTL  time.Duration
}

func New(jwtSecret string, tokenTTL time.Duration) TokenService {
	return &tokenService{
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// ValidateToken implements TokenService
func (s *tokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})

	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// IssueToken implements TokenService
func (s *tokenService) IssueToken(actor types.Actor) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.tokenTTL)

	claims := &Claims{
		ActorID:   actor.ID.String(),
		ActorType: string(actor.Type),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Actor resolves the claim pair back into a typed actor.
func (c *Claims) Actor() (types.Actor, error) {
	id, err := uuid.Parse(c.ActorID)
	if err != nil {
		return types.Actor{}, ErrInvalidToken
	}
	t := types.ActorType(c.ActorType)
	switch t {
	case types.ActorUser, types.ActorAnonymous, types.ActorService:
	default:
		t = types.ActorUser
	}
	return types.Actor{ID: id, Type: t}, nil
}
