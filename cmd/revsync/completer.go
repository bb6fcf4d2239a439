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
	"strings"

	"github.com/c-bata/go-prompt"
)

// Completer suggests command names and, once a command is typed, its flags.
type Completer struct {
	Commands []*command
}

// Complete implements the go-prompt completer signature.
func (c *Completer) Complete(d prompt.Document) []prompt.Suggest {
	if d.TextBeforeCursor() == "" {
		return []prompt.Suggest{}
	}
	args := strings.Split(d.TextBeforeCursor(), " ")
	w := d.GetWordBeforeCursor()

	if strings.HasPrefix(w, "-") {
		return c.flagCompleter(args)
	}
	if len(args) <= 1 {
		return prompt.FilterHasPrefix(c.commandSuggests(), args[0], true)
	}
	return []prompt.Suggest{}
}

func (c *Completer) flagCompleter(args []string) []prompt.Suggest {
	for _, cmd := range c.Commands {
		if cmd.Name != args[0] {
			continue
		}
		var suggests []prompt.Suggest
		cmd.VisitAll(func(fl *flag.Flag) {
			suggests = append(suggests, prompt.Suggest{Text: "-" + fl.Name, Description: fl.Usage})
		})
		return prompt.FilterContains(suggests, strings.TrimLeft(args[len(args)-1], "-"), true)
	}
	return []prompt.Suggest{}
}

func (c *Completer) commandSuggests() []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, len(c.Commands))
	for _, cmd := range c.Commands {
		suggests = append(suggests, prompt.Suggest{Text: cmd.Name, Description: cmd.Description()})
	}
	return suggests
}
