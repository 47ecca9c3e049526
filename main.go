// Command nightjar is a personal nostr relay: NIP-01 ingest, storage, and
// subscription fan-out, plus NIP-11 info, NIP-26 delegation, NIP-40
// expiration, and NIP-45 COUNT. Configuration is via environment variables.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/profile"
	"golang.org/x/sync/errgroup"

	"nightjar.dev/config"
	"nightjar.dev/database"
	"nightjar.dev/hub"
	"nightjar.dev/relayserver"
	"nightjar.dev/utils/chk"
	"nightjar.dev/utils/context"
	"nightjar.dev/utils/interrupt"
	"nightjar.dev/utils/log"
	"nightjar.dev/version"
)

func main() {
	args := parseArgs()
	if args.Version {
		fmt.Println(version.V)
		return
	}

	cfg, err := config.New()
	if chk.E(err) {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
	log.I.F("starting %s %s", cfg.Name, version.V)
	log.D.F("cpu: %s, sha256 extensions available: %v", cpuid.CPU.BrandName, cpuid.CPU.Supports(cpuid.SHA))

	if cfg.OwnerOnly {
		if _, err = cfg.OwnerPubkeyBytes(); err != nil {
			log.F.F("owner-only mode requires a valid NOSTR_OWNER_PUBKEY: %v", err)
			os.Exit(1)
		}
	}

	if args.ConfigCheck {
		log.I.Ln("configuration OK")
		return
	}

	switch cfg.Pprof {
	case "cpu":
		defer profile.Start(profile.CPUProfile).Stop()
	case "memory":
		defer profile.Start(profile.MemProfile).Stop()
	case "allocation":
		defer profile.Start(profile.MemProfileAllocs).Stop()
	}

	ctx, cancel := context.Cancellable(context.Bg())

	db, err := database.Open(ctx, cancel, cfg.DataDir)
	if chk.E(err) {
		os.Exit(1)
	}
	log.D.F("event store at %s, on-disk size %s", db.Path(), db.DiskUsage())

	h := hub.New()
	relayURL := fmt.Sprintf("ws://127.0.0.1:%d", cfg.Port)
	srv := relayserver.New(ctx, cancel, cfg, h, db, relayURL)

	interrupt.AddHandler(srv.Shutdown)

	group, gctx := errgroup.WithContext(ctx)
	if cfg.Pprof != "" {
		pprofServer := &http.Server{Addr: "127.0.0.1:6060"}
		group.Go(func() error {
			if err := pprofServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			return pprofServer.Close()
		})
	}
	group.Go(func() error {
		return srv.Start("0.0.0.0", cfg.Port)
	})

	if err = group.Wait(); chk.E(err) {
		log.F.F("relay listener failed: %v", err)
		os.Exit(2)
	}
}
