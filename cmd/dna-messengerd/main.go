// Command dna-messengerd runs the engine as a long-lived process: load (or
// bootstrap) the local identity, bring up the DHT singleton and heartbeat,
// and block until SIGINT/SIGTERM. It has no interactive CLI surface — the
// host API is the integration point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dna-messenger/internal/engine"
	"dna-messenger/internal/identity"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	dataDir := flag.String("data-dir", "", "directory for local identity and message stores (required)")
	displayName := flag.String("display-name", "", "display name to publish with the identity record")
	mnemonic := flag.String("mnemonic", "", "BIP39 mnemonic to derive a new identity from (first run only)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dna-messengerd version=%s commit=%s\n", version, commit)
		return
	}
	if *dataDir == "" {
		log.Fatal("dna-messengerd: -data-dir is required")
	}
	password := os.Getenv("DNA_MESSENGER_PASSWORD")
	if password == "" {
		log.Fatal("dna-messengerd: DNA_MESSENGER_PASSWORD must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Create(*dataDir)
	if err != nil {
		log.Fatalf("dna-messengerd: failed to initialize engine: %v", err)
	}
	defer eng.Destroy()

	if identity.HasIdentity(*dataDir) {
		if err := eng.LoadIdentity(password, *displayName); err != nil {
			log.Fatalf("dna-messengerd: failed to load identity: %v", err)
		}
	} else {
		if *mnemonic == "" {
			log.Fatal("dna-messengerd: no identity found in data-dir; pass -mnemonic to bootstrap one")
		}
		fp, err := eng.CreateIdentity(*mnemonic, "", password, *displayName)
		if err != nil {
			log.Fatalf("dna-messengerd: failed to create identity: %v", err)
		}
		slog.Info("identity created", "fingerprint", fp)
	}

	if *displayName != "" {
		if err := eng.RegisterName(ctx, *displayName); err != nil {
			slog.Warn("failed to register display name", "error", err)
		}
	}

	slog.Info("dna-messengerd starting", "data_dir", *dataDir)
	<-ctx.Done()
	slog.Info("dna-messengerd stopping")
}
