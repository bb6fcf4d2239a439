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

// Package syncconfig is the plain JSON-loadable configuration struct for a
// replicator process, in the style of pkg/config: a flat-ish struct with
// json tags, loaded with encoding/json and no surrounding framework.
package syncconfig

import (
	"encoding/json"
	"os"
	"time"
)

// Config is the top-level configuration for a revsyncd process.
type Config struct {
	Network string `json:"network"`
	Address string `json:"address"`

	RecordStore struct {
		Driver string `json:"driver"` // "memory" or "sqlite"
		Path   string `json:"path"`
	} `json:"record_store"`

	BlobStore struct {
		Driver string `json:"driver"` // "localdisk" or "s3"
		Path   string `json:"path"`
		Bucket string `json:"bucket"`
		Endpoint string `json:"endpoint"`
	} `json:"blob_store"`

	Replication struct {
		MaxRevsPerBatch   int           `json:"max_revs_per_batch"`
		CheckpointPeriod  time.Duration `json:"checkpoint_period"`
		PruneDepth        int           `json:"prune_depth"`
		ReconnectBackoff  time.Duration `json:"reconnect_backoff"`
		MaxReconnectDelay time.Duration `json:"max_reconnect_delay"`

		// AutoPurge removes a document outright on a revoked-access purge
		// notification instead of leaving it as a tombstone.
		AutoPurge bool `json:"auto_purge"`
		// NoDecryption leaves encrypted$ properties untouched on receipt
		// instead of requiring a configured Decryptor, for a relay process
		// with no key material.
		NoDecryption bool `json:"no_decryption"`
		// ProveAttachments challenges the peer with proveAttachment before
		// sending a revision that references blobs it may already hold.
		ProveAttachments bool `json:"prove_attachments"`
	} `json:"replication"`

	HTTP struct {
		MaxRedirects  int           `json:"max_redirects"`
		DialTimeout   time.Duration `json:"dial_timeout"`
		HandshakeTime time.Duration `json:"handshake_timeout"`
		ProxyFromEnv  bool          `json:"proxy_from_env"`
	} `json:"http"`

	Auth struct {
		Driver  string      `json:"driver"` // "basic", "bearer", "jwt", "client_cert"
		Options interface{} `json:"options"`
	} `json:"auth"`

	Metrics struct {
		Enabled bool   `json:"enabled"`
		Address string `json:"address"`
	} `json:"metrics"`

	Log struct {
		Mode  string `json:"mode"` // "dev" or "prod"
		Level string `json:"level"`
	} `json:"log"`
}

// LoadFromFile reads and parses a Config from a JSON file at fn.
func LoadFromFile(fn string) (*Config, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with sane in-memory defaults, suitable for tests
// and for a first run with no config file.
func Default() *Config {
	cfg := &Config{}
	cfg.RecordStore.Driver = "memory"
	cfg.BlobStore.Driver = "localdisk"
	cfg.BlobStore.Path = "./blobs"
	cfg.Replication.MaxRevsPerBatch = 200
	cfg.Replication.CheckpointPeriod = 5 * time.Second
	cfg.Replication.PruneDepth = 50
	cfg.Replication.ReconnectBackoff = time.Second
	cfg.Replication.MaxReconnectDelay = time.Minute
	cfg.HTTP.MaxRedirects = 10
	cfg.HTTP.DialTimeout = 15 * time.Second
	cfg.HTTP.HandshakeTime = 15 * time.Second
	cfg.HTTP.ProxyFromEnv = true
	cfg.Log.Mode = "dev"
	cfg.Log.Level = "info"
	return cfg
}
