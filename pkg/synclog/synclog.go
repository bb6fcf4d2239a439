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

// Package synclog wires zerolog the way reva's pkg/log does: a dev/prod mode
// switch, one logger per package name, and a registry so packages can be
// enabled/disabled individually at runtime.
package synclog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.CallerSkipFrameCount = 3
}

// Out is the log output writer; tests may redirect it.
var Out io.Writer = os.Stderr

// Mode "dev" prints console format, "prod" prints JSON.
var Mode = "dev"

var pkgs []string
var loggers = map[string]*zerolog.Logger{}

// New returns (creating if necessary) the logger registered for pkg.
func New(pkg string) *zerolog.Logger {
	if l, ok := loggers[pkg]; ok {
		return l
	}
	pkgs = append(pkgs, pkg)
	l := create(pkg)
	loggers[pkg] = l
	return l
}

func create(pkg string) *zerolog.Logger {
	var w io.Writer = Out
	if Mode == "dev" {
		w = zerolog.ConsoleWriter{Out: Out, TimeFormat: "15:04:05"}
	}
	l := zerolog.New(w).With().Timestamp().Str("pkg", pkg).Logger()
	return &l
}

// ListRegisteredPackages returns every package name that has called New.
func ListRegisteredPackages() []string {
	return pkgs
}
