package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var ErrMissingSecret = errors.New("auth jwt secret is required")

// JWTResolver verifies HS256 access tokens issued by the auth service.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) (*JWTResolver, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &JWTResolver{secret: []byte(secret)}, nil
}

func (r *JWTResolver) Resolve(_ context.Context, tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return Identity{}, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	// refresh tokens carry a jti and must not authenticate API calls
	if _, isRefresh := claims["jti"]; isRefresh {
		return Identity{}, ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil || userID == uuid.Nil {
		return Identity{}, ErrUnauthorized
	}

	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	return Identity{UserID: userID, Email: email, Role: role}, nil
}
