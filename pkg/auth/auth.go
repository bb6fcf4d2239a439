// Copyright 2018-2019 CERN
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

// Package auth resolves HTTP auth challenges (401/407 WWW-Authenticate /
// Proxy-Authenticate) into credentials for pkg/httplogic's upgrade state
// machine to retry the request with. Strategies live behind a named-factory
// registry so a driver can be selected by config string; the job here is
// "resolve a challenge on an outbound request", since this module is a
// replication client/peer, not an HTTP server authenticating callers.
package auth

import (
	"sync"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// Credentials is a resolved header/value pair to attach to the retried
// request.
type Credentials struct {
	Header string
	Value  string
}

// Strategy resolves a challenge string (the WWW-Authenticate header value)
// into Credentials.
type Strategy interface {
	Resolve(challenge string) (Credentials, error)
}

// Factory constructs a Strategy from driver-specific options.
type Factory func(options map[string]interface{}) (Strategy, error)

var (
	mu        sync.Mutex
	factories = map[string]Factory{}
)

// Register adds a named Strategy factory. Called from each strategy
// sub-package's init().
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// New builds the named Strategy.
func New(name string, options map[string]interface{}) (Strategy, error) {
	mu.Lock()
	f, ok := factories[name]
	mu.Unlock()
	if !ok {
		return nil, syncerrors.NotFound("auth strategy " + name)
	}
	return f(options)
}
