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

package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// LocalDisk stores each blob as a file under root/key, following
// pkg/storage/fs/ocis/blobstore's path.Join(root, key) layout.
type LocalDisk struct {
	root string
}

// NewLocalDisk returns a LocalDisk rooted at dir, creating it if needed.
func NewLocalDisk(dir string) (*LocalDisk, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainPOSIX, 0, err)
	}
	return &LocalDisk{root: dir}, nil
}

func (b *LocalDisk) path(key string) string {
	return filepath.Join(b.root, filepath.Clean("/"+key))
}

// Upload implements Store.
func (b *LocalDisk) Upload(_ context.Context, key string, r io.Reader) error {
	path := b.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return syncerrors.Wrap(syncerrors.DomainPOSIX, 0, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return syncerrors.Wrap(syncerrors.DomainPOSIX, 0, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return syncerrors.Wrap(syncerrors.DomainPOSIX, 0, err)
	}
	return nil
}

// Download implements Store.
func (b *LocalDisk) Download(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syncerrors.NotFound(key)
		}
		return nil, syncerrors.Wrap(syncerrors.DomainPOSIX, 0, err)
	}
	return f, nil
}

// Delete implements Store.
func (b *LocalDisk) Delete(_ context.Context, key string) error {
	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return syncerrors.Wrap(syncerrors.DomainPOSIX, 0, err)
	}
	return nil
}
