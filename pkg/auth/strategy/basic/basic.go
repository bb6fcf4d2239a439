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

// Package basic registers the "basic" auth.Strategy, resolving a Basic
// challenge to a static base64(user:pass) Authorization header, the way
// internal/http/interceptors/auth/token/strategy/bearer registers itself
// for inbound bearer tokens.
package basic

import (
	"encoding/base64"
	"fmt"

	"github.com/cs3org/revsync/pkg/auth"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

func init() {
	auth.Register("basic", New)
}

type strategy struct {
	username, password string
}

// New builds a basic-auth Strategy from {"username": ..., "password": ...}.
func New(options map[string]interface{}) (auth.Strategy, error) {
	user, _ := options["username"].(string)
	pass, _ := options["password"].(string)
	if user == "" {
		return nil, syncerrors.BadRevisionID("basic auth strategy requires a username")
	}
	return &strategy{username: user, password: pass}, nil
}

func (s *strategy) Resolve(challenge string) (auth.Credentials, error) {
	token := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", s.username, s.password)))
	return auth.Credentials{Header: "Authorization", Value: "Basic " + token}, nil
}
