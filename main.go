package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertlestak/txbatch/internal/config"
	"github.com/robertlestak/txbatch/internal/importer"
	"github.com/robertlestak/txbatch/internal/kv"
	"github.com/robertlestak/txbatch/internal/store"
	"github.com/robertlestak/txbatch/internal/telemetry"
	log "github.com/sirupsen/logrus"
)

// app wires one store namespace to the import pipeline.
type app struct {
	cfg      *config.Config
	kv       kv.KV
	store    *store.Store
	importer *importer.Importer
	// registry is set when events are exported to prometheus
	registry *prometheus.Registry
}

func newApp(cfg *config.Config) (*app, error) {
	l := log.WithFields(log.Fields{
		"func":    "newApp",
		"backend": cfg.Backend,
	})
	l.Info("start")
	ns := kv.Namespace{Name: cfg.StoreName, Version: cfg.StoreVersion, Table: cfg.StoreTable}
	var backend kv.KV
	switch cfg.Backend {
	case "memory":
		backend = kv.NewMemory()
	default:
		r, err := kv.NewRedis(kv.RedisOptions{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, ns)
		if err != nil {
			return nil, err
		}
		backend = r
	}
	a := &app{cfg: cfg, kv: backend}
	var tracker telemetry.Tracker
	switch cfg.Telemetry {
	case "prometheus":
		a.registry = prometheus.NewRegistry()
		p, err := telemetry.NewPrometheus(a.registry)
		if err != nil {
			backend.Close()
			return nil, err
		}
		tracker = p
	case "none":
		tracker = telemetry.Noop{}
	default:
		tracker = telemetry.LogTracker{}
	}
	ids, err := store.NewIDGenerator(cfg.IDStrategy)
	if err != nil {
		backend.Close()
		return nil, err
	}
	a.store = store.New(backend, tracker, store.WithIDGenerator(ids))
	a.importer = importer.New(a.store, tracker,
		importer.WithLegacyDefaults(importer.LegacyDefaults{
			ChainID:          cfg.LegacyChainID,
			Name:             cfg.LegacyBatchName,
			TxBuilderVersion: cfg.LegacyTxBuilderVersion,
			SafeAddress:      cfg.LegacySafeAddress,
			ComputeChecksum:  cfg.LegacyChecksum == "computed",
		}),
		importer.WithConcurrency(cfg.BulkConcurrency),
		importer.WithMaxBytes(cfg.MaxImportBytes),
	)
	return a, nil
}

func (a *app) Close() error {
	return a.kv.Close()
}

// checkBackend rejects the memory backend for one-shot subcommands. Its
// contents live only as long as the process, so only server can use it.
func checkBackend(cmd string, backend string) error {
	if backend == "memory" && cmd != "server" {
		return fmt.Errorf("%s: STORE_BACKEND=memory is only supported by the server command", cmd)
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <server|import|export|list|get|rm> [flags]\n", os.Args[0])
}

func main() {
	l := log.WithFields(log.Fields{
		"func": "main",
	})
	cfg, err := config.Load()
	if err != nil {
		l.Fatal(err)
	}
	cfg.SetupLogging()
	if len(os.Args) < 2 {
		l.Error("no command")
		usage()
		os.Exit(2)
	}
	if err := checkBackend(os.Args[1], cfg.Backend); err != nil {
		l.Fatal(err)
	}
	a, err := newApp(cfg)
	if err != nil {
		l.Fatal(err)
	}
	defer a.Close()
	args := os.Args[2:]
	switch os.Args[1] {
	case "server":
		err = a.server()
	case "import":
		err = a.cliImport(args)
	case "export":
		err = a.cliExport(args)
	case "list":
		err = a.cliList(args)
	case "get":
		err = a.cliGet(args)
	case "rm":
		err = a.cliRemove(args)
	default:
		l.Errorf("unknown command %q", os.Args[1])
		usage()
		a.Close()
		os.Exit(2)
	}
	if err != nil {
		l.Error(err)
		a.Close()
		os.Exit(1)
	}
}
