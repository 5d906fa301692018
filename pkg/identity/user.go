// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type User struct {
	Subject           string    `json:"sub"`
	Email             string    `json:"email,omitempty"`
	Name              string    `json:"name,omitempty"`
	PreferredUsername string    `json:"preferred_username,omitempty"`
	Issuer            string    `json:"iss,omitempty"`
	ExpiresAt         time.Time `json:"exp,omitempty"`
}

func (u User) DisplayName() string {
	if u.Email != "" {
		return u.Email
	}
	if u.PreferredUsername != "" {
		return u.PreferredUsername
	}
	return u.Subject
}

// User returns the claims of the cached ID token. The token was verified when
// it was stored, so it is only decoded here.
func (c *Client) User(_ context.Context) (User, error) {
	entry, found, err := c.cache.Get(c.key)
	if err != nil {
		return User{}, fmt.Errorf("failed to read session cache: %w", err)
	}
	if !found || entry.IDToken == "" {
		return User{}, ErrNotAuthenticated
	}
	return UserFromToken(entry.IDToken)
}

// UserFromToken decodes identity claims from a JWT without verifying it.
func UserFromToken(raw string) (User, error) {
	claims := jwt.MapClaims{}
	parser := jwt.Parser{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return User{}, fmt.Errorf("failed to parse token: %w", err)
	}
	user := User{
		Subject:           stringClaim(claims, "sub"),
		Email:             stringClaim(claims, "email"),
		Name:              stringClaim(claims, "name"),
		PreferredUsername: stringClaim(claims, "preferred_username"),
		Issuer:            stringClaim(claims, "iss"),
	}
	if exp, ok := claims["exp"].(float64); ok {
		user.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return user, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	v, _ := claims[name].(string)
	return v
}
