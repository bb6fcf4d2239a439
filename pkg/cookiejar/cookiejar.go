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

// Package cookiejar supplies the cookie provider pkg/httplogic's HTTP/WS
// upgrade logic treats as an external collaborator: something
// that remembers Set-Cookie headers per origin and replays them on the
// next request to that origin, across process restarts if the deployment
// wants that.
//
// Provider is exactly net/http's http.CookieJar shape, so the standard
// library's own net/http/cookiejar.Jar satisfies it directly for the
// common case; Redis adds cross-process persistence on top.
package cookiejar

import "net/http"

// Provider is satisfied by net/http/cookiejar.Jar and by Redis below.
type Provider = http.CookieJar
