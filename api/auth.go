// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when the Authorization header is missing or
	// not a Bearer token
	ErrNoToken = errors.New("missing bearer token")

	// ErrNotAdmin is returned for valid tokens without the admin role
	ErrNotAdmin = errors.New("admin role required")
)

// Authenticator validates admin bearer tokens for mutating endpoints
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator over a shared HMAC secret
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authorize checks the request's Bearer token and requires role "admin"
func (a *Authenticator) Authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ErrNoToken
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid token claims")
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return ErrNotAdmin
	}
	return nil
}
