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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cs3org/revsync/pkg/revid"
)

func connectCommand() *command {
	cmd := newCommand("connect")
	cmd.Description = func() string { return "opens a BLIP connection to a peer, e.g. connect wss://host/db" }
	cmd.Action = func() error {
		if cmd.NArg() != 1 {
			fmt.Println("usage: connect <wss-url>")
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := connectTo(ctx, cmd.Arg(0)); err != nil {
			return err
		}
		fmt.Println("connected to", cmd.Arg(0))
		return nil
	}
	return cmd
}

func statusCommand() *command {
	cmd := newCommand("status")
	cmd.Description = func() string { return "shows the current connection, if any" }
	cmd.Action = func() error {
		if !current.connected() {
			fmt.Println("not connected")
			return nil
		}
		fmt.Println("connected to", current.target.String())
		return nil
	}
	return cmd
}

func getRevCommand() *command {
	cmd := newCommand("getrev")
	cmd.Description = func() string { return "fetches one document revision: getrev <docid> [rev]" }
	cmd.Action = func() error {
		c, err := current.require()
		if err != nil {
			return err
		}
		if cmd.NArg() < 1 || cmd.NArg() > 2 {
			fmt.Println("usage: getrev <docid> [rev]")
			return nil
		}
		var rev *revid.RevID
		if cmd.NArg() == 2 {
			parsed, err := revid.Parse(cmd.Arg(1))
			if err != nil {
				return err
			}
			rev = &parsed
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		got, err := c.GetRev(ctx, cmd.Arg(0), rev)
		if err != nil {
			return err
		}
		fmt.Printf("rev=%s deleted=%v\n%s\n", got.RevID.String(), got.Deleted, got.Body)
		return nil
	}
	return cmd
}

func putRevCommand() *command {
	cmd := newCommand("putrev")
	parentFlag := cmd.String("parent", "", "parent revision ID, empty for a new document")
	fileFlag := cmd.String("file", "", "path to the file whose contents become the revision body")
	deletedFlag := cmd.Bool("deleted", false, "mark this revision as a tombstone")
	cmd.ResetFlags = func() { *parentFlag, *fileFlag, *deletedFlag = "", "", false }
	cmd.Description = func() string { return "pushes one document revision: putrev -file body.json <docid>" }
	cmd.Action = func() error {
		c, err := current.require()
		if err != nil {
			return err
		}
		if cmd.NArg() != 1 {
			fmt.Println("usage: putrev -file <path> [-parent <rev>] [-deleted] <docid>")
			return nil
		}
		var body []byte
		if *fileFlag != "" {
			body, err = os.ReadFile(*fileFlag)
			if err != nil {
				return err
			}
		}
		var parent *revid.RevID
		if *parentFlag != "" {
			parsed, err := revid.Parse(*parentFlag)
			if err != nil {
				return err
			}
			parent = &parsed
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		newID, err := c.PutRev(ctx, cmd.Arg(0), parent, body, *deletedFlag)
		if err != nil {
			return err
		}
		fmt.Println("rev=" + newID.String())
		return nil
	}
	return cmd
}

func getAttachmentCommand() *command {
	cmd := newCommand("getattachment")
	propFlag := cmd.String("property", "", "document property the attachment is referenced from")
	outFlag := cmd.String("out", "", "file to write the attachment bytes to, defaults to stdout")
	cmd.ResetFlags = func() { *propFlag, *outFlag = "", "" }
	cmd.Description = func() string { return "fetches a blob by digest: getattachment -property photo <docid> <digest>" }
	cmd.Action = func() error {
		c, err := current.require()
		if err != nil {
			return err
		}
		if cmd.NArg() != 2 {
			fmt.Println("usage: getattachment [-property <name>] [-out <path>] <docid> <digest>")
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		body, err := c.GetAttachment(ctx, cmd.Arg(0), *propFlag, cmd.Arg(1))
		if err != nil {
			return err
		}
		if *outFlag == "" {
			os.Stdout.Write(body) //nolint:errcheck
			return nil
		}
		return os.WriteFile(*outFlag, body, 0600)
	}
	return cmd
}

func versionCommand() *command {
	cmd := newCommand("version")
	cmd.Description = func() string { return "prints the revsync client version" }
	cmd.Action = func() error {
		fmt.Printf("revsync version=%s commit=%s\n", version, gitCommit)
		return nil
	}
	return cmd
}
