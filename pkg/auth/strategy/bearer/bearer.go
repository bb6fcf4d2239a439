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

// Package bearer registers the "bearer" auth.Strategy: a pre-obtained
// static token attached verbatim as "Bearer <token>", adapted from
// internal/http/interceptors/auth/token/strategy/bearer's inbound-token
// extraction into an outbound credential resolver.
package bearer

import (
	"github.com/cs3org/revsync/pkg/auth"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

func init() {
	auth.Register("bearer", New)
}

type strategy struct {
	token string
}

// New builds a bearer Strategy from {"token": ...}.
func New(options map[string]interface{}) (auth.Strategy, error) {
	token, _ := options["token"].(string)
	if token == "" {
		return nil, syncerrors.BadRevisionID("bearer auth strategy requires a token")
	}
	return &strategy{token: token}, nil
}

func (s *strategy) Resolve(challenge string) (auth.Credentials, error) {
	return auth.Credentials{Header: "Authorization", Value: "Bearer " + s.token}, nil
}
