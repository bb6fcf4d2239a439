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

package main

import (
	"fmt"
	"os"
	"strings"
)

// Executor runs one typed-in shell line against the registered commands.
type Executor struct {
	Commands []*command
}

// Execute implements the go-prompt executor signature.
func (e *Executor) Execute(s string) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return
	case "exit", "quit":
		if current.conn != nil {
			current.conn.Close() //nolint:errcheck
		}
		os.Exit(0)
	}

	args := strings.Split(s, " ")
	action := args[0]
	for _, cmd := range e.Commands {
		if cmd.Name != action {
			continue
		}
		if err := cmd.Parse(args[1:]); err != nil {
			return
		}
		defer cmd.ResetFlags()
		if err := cmd.Action(); err != nil {
			fmt.Println("error:", err)
		}
		return
	}
	fmt.Println("unknown command:", action)
}
