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

package cookiejar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// Redis is a Provider that persists cookies to a Redis instance, one key
// per origin host, so cookies survive a replicator process restart. It
// keeps an in-memory net/http/cookiejar.Jar as a read-through cache and
// writes back to Redis on every SetCookies.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	cached *cookiejar.Jar
	loaded map[string]bool
}

// NewRedis returns a Redis-backed Provider using client, namespacing keys
// under prefix (e.g. "revsync:cookies:") with the given per-key TTL.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) (*Redis, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainLiteCore, 0, err)
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, cached: jar, loaded: map[string]bool{}}, nil
}

// Cookies implements http.CookieJar, lazily hydrating the in-memory cache
// from Redis the first time a given host is asked about.
func (r *Redis) Cookies(u *url.URL) []*http.Cookie {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hydrate(u)
	return r.cached.Cookies(u)
}

// SetCookies implements http.CookieJar, updating both the in-memory cache
// and the persisted Redis copy.
func (r *Redis) SetCookies(u *url.URL, cookies []*http.Cookie) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hydrate(u)
	r.cached.SetCookies(u, cookies)
	r.persist(u)
}

func (r *Redis) hydrate(u *url.URL) {
	host := u.Hostname()
	if r.loaded[host] {
		return
	}
	r.loaded[host] = true

	data, err := r.client.Get(context.Background(), r.prefix+host).Bytes()
	if err != nil {
		return // cache miss or Redis unavailable: proceed with an empty jar for this host
	}
	var cookies []*http.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return
	}
	r.cached.SetCookies(u, cookies)
}

func (r *Redis) persist(u *url.URL) {
	host := u.Hostname()
	cookies := r.cached.Cookies(u)
	data, err := json.Marshal(cookies)
	if err != nil {
		return
	}
	r.client.Set(context.Background(), r.prefix+host, data, r.ttl)
}
