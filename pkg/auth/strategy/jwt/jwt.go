// Copyright 2018-2026 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package jwt registers the "jwt" auth.Strategy: it mints a fresh signed
// JWT on every Resolve call, for peers that challenge with a short-lived
// token requirement rather than accepting a static bearer token.
package jwt

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cs3org/revsync/pkg/auth"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

func init() {
	auth.Register("jwt", New)
}

type strategy struct {
	secret   []byte
	issuer   string
	subject  string
	lifetime time.Duration
}

// New builds a JWT-minting Strategy from
// {"secret": ..., "issuer": ..., "subject": ..., "lifetime_seconds": ...}.
func New(options map[string]interface{}) (auth.Strategy, error) {
	secret, _ := options["secret"].(string)
	if secret == "" {
		return nil, syncerrors.BadRevisionID("jwt auth strategy requires a secret")
	}
	issuer, _ := options["issuer"].(string)
	subject, _ := options["subject"].(string)

	lifetime := 5 * time.Minute
	if secs, ok := options["lifetime_seconds"].(float64); ok && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}

	return &strategy{secret: []byte(secret), issuer: issuer, subject: subject, lifetime: lifetime}, nil
}

func (s *strategy) Resolve(challenge string) (auth.Credentials, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.subject,
		ID:        newJTI(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return auth.Credentials{}, syncerrors.Wrap(syncerrors.DomainLiteCore, 0, err)
	}
	return auth.Credentials{Header: "Authorization", Value: "Bearer " + signed}, nil
}

// newJTI gives each minted token a distinct id so two Resolve calls within
// the same wall-clock second still produce different tokens.
func newJTI() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
