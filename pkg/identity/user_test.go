// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("irrelevant"))
	require.NoError(t, err)
	return raw
}

func TestUserFromToken(t *testing.T) {
	exp := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	user, err := UserFromToken(unsignedToken(t, jwt.MapClaims{
		"sub":                "auth0|42",
		"email":              "jane@example.com",
		"preferred_username": "jane",
		"iss":                "https://tenant.eu.auth0.com/",
		"exp":                exp.Unix(),
	}))
	require.NoError(t, err)
	assert.Equal(t, "auth0|42", user.Subject)
	assert.Equal(t, "jane", user.PreferredUsername)
	assert.Equal(t, exp, user.ExpiresAt)
	assert.Equal(t, "jane@example.com", user.DisplayName())
}

func TestUser_DisplayNameFallbacks(t *testing.T) {
	assert.Equal(t, "jane", User{Subject: "s", PreferredUsername: "jane"}.DisplayName())
	assert.Equal(t, "s", User{Subject: "s"}.DisplayName())
}

func TestUserFromToken_Malformed(t *testing.T) {
	_, err := UserFromToken("not-a-jwt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse token")
}
