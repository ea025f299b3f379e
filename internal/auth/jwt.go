// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures HS256 JWT issuance and validation.
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Claims is the token payload: the registered claims plus the user id
// and scopes Middleware.Wrap reads to build a User.
type Claims struct {
	jwt.RegisteredClaims
	UserID string   `json:"uid"`
	Scopes []string `json:"scopes,omitempty"`
}

// IssueJWT signs a token for userID/scopes using cfg, good for cfg.TTL
// (default 1h).
func IssueJWT(cfg JWTConfig, userID, subject string, scopes []string) (string, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Scopes: scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ValidateJWT parses and verifies tokenString against cfg, returning its
// claims on success.
func ValidateJWT(tokenString string, cfg JWTConfig) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
