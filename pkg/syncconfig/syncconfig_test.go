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

package syncconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs3org/revsync/pkg/syncconfig"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := syncconfig.Default()
	assert.Equal(t, "memory", cfg.RecordStore.Driver)
	assert.Equal(t, 10, cfg.HTTP.MaxRedirects)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"network": "tcp",
		"address": "127.0.0.1:9090",
		"record_store": {"driver": "sqlite", "path": "./data.db"}
	}`), 0600))

	cfg, err := syncconfig.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Network)
	assert.Equal(t, "sqlite", cfg.RecordStore.Driver)
	assert.Equal(t, "./data.db", cfg.RecordStore.Path)
}
