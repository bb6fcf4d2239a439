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
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cs3org/revsync/pkg/blobstore"
	"github.com/cs3org/revsync/pkg/syncconfig"
	"github.com/cs3org/revsync/pkg/syncerrors"
)

// buildS3BlobStore constructs the minio.Client for cfg's blob_store section,
// taking access/secret keys from the environment, never from the config
// file, which may end up in version control.
func buildS3BlobStore(cfg *syncconfig.Config) (blobstore.Store, error) {
	if cfg.BlobStore.Endpoint == "" {
		return nil, syncerrors.New(syncerrors.DomainLiteCore, 400, "blob_store.endpoint is required for the s3 driver")
	}
	if cfg.BlobStore.Bucket == "" {
		return nil, syncerrors.New(syncerrors.DomainLiteCore, 400, "blob_store.bucket is required for the s3 driver")
	}

	client, err := minio.New(cfg.BlobStore.Endpoint, &minio.Options{
		Creds:  credentials.NewEnvAWS(),
		Secure: !strings.HasPrefix(cfg.BlobStore.Endpoint, "localhost") && !strings.HasPrefix(cfg.BlobStore.Endpoint, "127.0.0.1"),
	})
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	return blobstore.NewS3(client, cfg.BlobStore.Bucket), nil
}
