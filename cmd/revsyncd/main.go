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

// revsyncd is the daemon entrypoint, mirroring cmd/revad's flag-driven
// bootstrap (parse config, build the stack, start serving, wait for a
// signal) retargeted from reva's gRPC/HTTP service mux onto one
// replication connection: either a passive listener accepting BLIP
// upgrades, or an active client dialing a single remote out.
package main

import (
	"context"
	"crypto/sha1" //nolint:gosec // deterministic source-ID derivation, not a security digest
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cs3org/revsync/pkg/blobstore"
	"github.com/cs3org/revsync/pkg/checkpoint"
	"github.com/cs3org/revsync/pkg/httplogic"
	"github.com/cs3org/revsync/pkg/recordstore"
	"github.com/cs3org/revsync/pkg/replication"
	"github.com/cs3org/revsync/pkg/revid"
	"github.com/cs3org/revsync/pkg/syncconfig"
	"github.com/cs3org/revsync/pkg/synclog"
	"github.com/cs3org/revsync/pkg/syncmetrics"
	"github.com/cs3org/revsync/pkg/transport"
)

var (
	versionFlag = flag.Bool("version", false, "print version and exit")
	configFlag  = flag.String("c", "", "path to a JSON config file; built-in defaults if empty")
	modeFlag    = flag.String("mode", "passive", "\"active\" to dial -remote out, \"passive\" to listen on the configured address")
	remoteFlag  = flag.String("remote", "", "wss:// URL of the peer to replicate with in active mode")
	dbUUIDFlag  = flag.String("db-uuid", "", "stable identifier for this database; random if empty")

	// gitCommit, buildDate are set with -ldflags at build time, the same
	// hook cmd/revad's version string uses.
	gitCommit, buildDate, version string
)

const wsWindowSize = 1 << 20

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Fprintf(os.Stderr, "revsyncd version=%s commit=%s build_date=%s\n", version, gitCommit, buildDate)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %s\n", err)
		os.Exit(1)
	}
	synclog.Mode = cfg.Log.Mode
	log := synclog.New("revsyncd")

	source := localSource(*dbUUIDFlag)
	log.Info().Str("source", hex.EncodeToString(source[:])).Msg("replicator source identity")

	store, err := buildRecordStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("error opening record store")
		os.Exit(1)
	}
	defer store.Close() //nolint:errcheck

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("error opening blob store")
		os.Exit(1)
	}

	cpr := checkpoint.New(checkpoint.NewMemory(), cfg.Replication.CheckpointPeriod)

	if cfg.Metrics.Enabled {
		startMetrics(cfg.Metrics.Address, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch *modeFlag {
	case "active":
		if *remoteFlag == "" {
			log.Error().Msg("-remote is required in active mode")
			os.Exit(1)
		}
		if err := runActive(ctx, cfg, source, store, blobs, cpr, log); err != nil {
			log.Error().Err(err).Msg("active replication failed")
			os.Exit(1)
		}
	default:
		if err := runPassive(cfg, source, store, blobs, cpr, log); err != nil {
			log.Error().Err(err).Msg("passive listener failed")
			os.Exit(1)
		}
	}
}

func loadConfig() (*syncconfig.Config, error) {
	if *configFlag == "" {
		return syncconfig.Default(), nil
	}
	return syncconfig.LoadFromFile(*configFlag)
}

// localSource derives this process's 20-byte replication SourceID from a
// stable UUID (explicit, or freshly minted if one wasn't supplied), the
// same identity the checkpoint ID is keyed off: google/uuid mints the identifier, SHA-1 folds it down to the
// SourceIDLen the wire format requires.
func localSource(explicit string) revid.SourceID {
	id := uuid.New()
	if explicit != "" {
		if parsed, err := uuid.Parse(explicit); err == nil {
			id = parsed
		}
	}
	sum := sha1.Sum(id[:]) //nolint:gosec
	var src revid.SourceID
	copy(src[:], sum[:])
	return src
}

func buildRecordStore(cfg *syncconfig.Config) (recordstore.Store, error) {
	switch cfg.RecordStore.Driver {
	case "sqlite":
		return recordstore.OpenSQLite(cfg.RecordStore.Path)
	default:
		return recordstore.NewMemory(), nil
	}
}

func buildBlobStore(cfg *syncconfig.Config) (blobstore.Store, error) {
	switch cfg.BlobStore.Driver {
	case "s3":
		return buildS3BlobStore(cfg)
	default:
		path := cfg.BlobStore.Path
		if path == "" {
			path = "./blobs"
		}
		return blobstore.NewLocalDisk(path)
	}
}

func startMetrics(addr string, log *zerolog.Logger) {
	exp, err := syncmetrics.New("revsyncd")
	if err != nil {
		log.Error().Err(err).Msg("error registering metrics views")
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", exp.Handler())
	if addr == "" {
		addr = ":9100"
	}
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()
}

// runPassive stands up one HTTP listener accepting BLIP upgrade requests;
// every accepted connection gets its own Replicator driven in continuous
// mode, so this process can serve any number of concurrent peers.
func runPassive(cfg *syncconfig.Config, source revid.SourceID, store recordstore.Store, blobs blobstore.Store, cpr *checkpoint.Checkpointer, log *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/_blipsync", func(w http.ResponseWriter, r *http.Request) {
		conn, err := httplogic.Accept(w, r)
		if err != nil {
			log.Error().Err(err).Msg("websocket accept failed")
			return
		}
		t := transport.NewWS(conn, false, wsWindowSize)
		rep := replication.New(replication.Options{
			Transport:        t,
			LocalStore:       store,
			Source:           source,
			PruneDepth:       cfg.Replication.PruneDepth,
			Checkpointer:     cpr,
			CheckpointID:     checkpoint.ID(hex.EncodeToString(source[:]), r.RemoteAddr, r.URL.Path),
			RemoteName:       r.RemoteAddr,
			Continuous:       true,
			BlobStore:        blobs,
			ProveAttachments: cfg.Replication.ProveAttachments,
			AutoPurge:        cfg.Replication.AutoPurge,
			NoDecryption:     cfg.Replication.NoDecryption,
			OnDocsEnded: func(ev replication.DocEnded) {
				log.Info().Str("remote", r.RemoteAddr).Str("doc", ev.DocID).Str("kind", ev.Kind.String()).Msg("document ended")
			},
			OnStatus: func(s replication.Status) {
				log.Info().Str("remote", r.RemoteAddr).Str("state", s.Level.String()).Msg("replicator status")
			},
		})
		// The handler returns once the connection is hijacked; r.Context()
		// would be canceled at that point regardless, so the replicator
		// for this peer runs under its own background context instead.
		rep.Start(context.Background())
	})

	addr := cfg.Address
	if addr == "" {
		addr = ":4985"
	}
	log.Info().Str("address", addr).Msg("listening for BLIP upgrades")
	return http.ListenAndServe(addr, mux) //nolint:gosec // operator-chosen bind address, no public timeout profile implied
}

// runActive dials the -remote peer once, drives the upgrade
// handshake, and runs a single continuous Replicator until a termination
// signal arrives.
func runActive(ctx context.Context, cfg *syncconfig.Config, source revid.SourceID, store recordstore.Store, blobs blobstore.Store, cpr *checkpoint.Checkpointer, log *zerolog.Logger) error {
	target, err := url.Parse(*remoteFlag)
	if err != nil {
		return err
	}

	conn, err := httplogic.Dial(ctx, httplogic.Options{Target: target})
	if err != nil {
		return err
	}

	t := transport.NewWS(conn, true, wsWindowSize)
	rep := replication.New(replication.Options{
		Transport:        t,
		LocalStore:       store,
		Source:           source,
		PruneDepth:       cfg.Replication.PruneDepth,
		Checkpointer:     cpr,
		CheckpointID:     checkpoint.ID(hex.EncodeToString(source[:]), target.String(), target.Path),
		RemoteName:       target.Host,
		Continuous:       true,
		RetryBase:        cfg.Replication.ReconnectBackoff,
		RetryMaxInterval: cfg.Replication.MaxReconnectDelay,
		BlobStore:        blobs,
		ProveAttachments: cfg.Replication.ProveAttachments,
		AutoPurge:        cfg.Replication.AutoPurge,
		NoDecryption:     cfg.Replication.NoDecryption,
		OnDocsEnded: func(ev replication.DocEnded) {
			log.Info().Str("remote", target.Host).Str("doc", ev.DocID).Str("kind", ev.Kind.String()).Msg("document ended")
		},
		OnStatus: func(s replication.Status) {
			log.Info().Str("remote", target.Host).Str("state", s.Level.String()).Msg("replicator status")
		},
	})
	rep.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	rep.Stop(ctx)
	return nil
}
