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

	"github.com/minio/minio-go/v7"

	"github.com/cs3org/revsync/pkg/syncerrors"
)

// S3 stores blobs as objects in a single S3-compatible bucket via
// minio-go, the object-storage counterpart to LocalDisk for deployments
// backed by object storage rather than a local filesystem.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 wraps an already-configured minio.Client for bucket.
func NewS3(client *minio.Client, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

// Upload implements Store.
func (s *S3) Upload(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{})
	if err != nil {
		return syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	return nil
}

// Download implements Store.
func (s *S3) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	if _, err := obj.Stat(); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, syncerrors.NotFound(key)
		}
		return nil, syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	return obj, nil
}

// Delete implements Store.
func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return syncerrors.Wrap(syncerrors.DomainNetwork, 0, err)
	}
	return nil
}
