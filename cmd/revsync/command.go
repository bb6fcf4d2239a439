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
	"flag"
	"fmt"
)

// command is one shell verb: a flag.FlagSet plus the action it runs once
// parsed.
type command struct {
	*flag.FlagSet
	Name        string
	Action      func() error
	Description func() string
	// ResetFlags restores this command's flag values to their defaults
	// between invocations, since one process's *flag.FlagSet is reused for
	// every line typed at the prompt. A no-op for commands with no flags.
	ResetFlags func()
}

// newCommand creates an empty command ready for its caller to attach flags
// and an Action.
func newCommand(name string) *command {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cmd := &command{
		Name: name,
		Action: func() error {
			fmt.Println(name + ": not implemented")
			return nil
		},
		Description: func() string { return "" },
		ResetFlags:  func() {},
		FlagSet:     fs,
	}
	return cmd
}
