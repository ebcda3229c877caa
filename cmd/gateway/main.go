// Command gateway is the agentman-gateway entrypoint: it wires config,
// keystore, identity verification, the container orchestrator, session
// recording, the supplemental admin API, and the reconciliation cron job
// into a single running SSH gateway.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/theykk/agentman-gateway/internal/adminapi"
	"github.com/theykk/agentman-gateway/internal/config"
	"github.com/theykk/agentman-gateway/internal/controlcommands"
	"github.com/theykk/agentman-gateway/internal/gatewayserver"
	"github.com/theykk/agentman-gateway/internal/identityverifier"
	"github.com/theykk/agentman-gateway/internal/keystore"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
	"github.com/theykk/agentman-gateway/internal/reconcile"
	"github.com/theykk/agentman-gateway/internal/session"
	"github.com/theykk/agentman-gateway/internal/sessionrecording"
	"github.com/theykk/agentman-gateway/internal/sshkeys"
	"github.com/theykk/agentman-gateway/internal/workspace"
)

func main() {
	configPath := flag.String("config", "/etc/agentman/gateway.toml", "path to the gateway's TOML config file")
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)

	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create gateway directories: %v", err)
	}

	log.Printf("config: listen=%s orchestrator=%s workspace_root=%s", cfg.ListenAddr, cfg.OrchestratorBackend, cfg.WorkspaceRoot)

	store, err := keystore.Open(cfg.StateFile)
	if err != nil {
		log.Fatalf("open state file: %v", err)
	}

	hostSigner, err := sshkeys.LoadOrGenerateHostKey(cfg.HostKeyPath)
	if err != nil {
		log.Fatalf("load host key: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.InitOrchestrator(ctx, cfg.OrchestratorBackend); err != nil {
		log.Fatalf("init orchestrator: %v", err)
	}
	orch := orchestrator.Get()

	verifier := identityverifier.New(cfg.IdentityProviderHost)
	prov := workspace.New(cfg, store, orch)
	control := controlcommands.Deps{Store: store, Orchestrator: orch, Provisioner: prov}

	var recordings *sessionrecording.Factory
	if cfg.SessionRecordingEnabled {
		recordings, err = sessionrecording.NewFactory(cfg.RecordingDir)
		if err != nil {
			log.Fatalf("init session recording: %v", err)
		}
	}

	events := adminapi.NewBroadcaster()
	fsm := session.New(cfg, store, verifier, prov, orch, control, hostSigner, recordings, events)
	srv := gatewayserver.New(cfg.ListenAddr, fsm)

	if cfg.AdminListenAddr != "" {
		admin := adminapi.New(orch, events)
		go func() {
			if err := adminapi.ListenAndServe(ctx, cfg.AdminListenAddr, admin); err != nil {
				log.Printf("admin API stopped: %v", err)
			}
		}()
		log.Printf("admin API listening on %s", cfg.AdminListenAddr)
	}

	recon := reconcile.New(orch, store)
	cronJob, err := recon.Start(ctx, "@every 15m")
	if err != nil {
		log.Fatalf("start reconcile cron: %v", err)
	}
	defer cronJob.Stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Printf("gateway server error: %v", err)
	}
	log.Println("gateway stopped")
}
