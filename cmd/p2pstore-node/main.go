// Command p2pstore-node is a minimal demo harness around the storage
// core: it wires persistence, the sequence-number ledger, the revocation
// set, and the Main Store together, runs the periodic expiration sweep,
// and periodically snapshots operational metrics to disk. It does not
// implement a real NetworkNode — that transport layer is out of scope
// for this module — so "run" exercises the storage core as a single
// isolated node rather than a connected peer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/duskledger/p2pstore/internal/appendstore"
	"github.com/duskledger/p2pstore/internal/applog"
	"github.com/duskledger/p2pstore/internal/broadcast"
	"github.com/duskledger/p2pstore/internal/config"
	"github.com/duskledger/p2pstore/internal/datastorage"
	"github.com/duskledger/p2pstore/internal/getdata"
	"github.com/duskledger/p2pstore/internal/metrics"
	"github.com/duskledger/p2pstore/internal/persistence"
	"github.com/duskledger/p2pstore/internal/pprofutil"
	"github.com/duskledger/p2pstore/internal/protectedstore"
	"github.com/duskledger/p2pstore/internal/readygate"
	"github.com/duskledger/p2pstore/internal/removedset"
	"github.com/duskledger/p2pstore/internal/seqmap"
	"github.com/duskledger/p2pstore/internal/signer"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runNode(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: p2pstore-node <run|status> [args]")
	fmt.Fprintln(w, "  run    --data-dir <dir> [--debug]")
	fmt.Fprintln(w, "  status --data-dir <dir>")
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".p2pstore")
}

func runNode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", homeDir(), "directory for keys, persisted state, and status.json")
	debug := fs.Bool("debug", false, "enable debug-level logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if err := pprofutil.StartFromEnv(stderr); err != nil {
		fmt.Fprintf(stderr, "pprof: %v\n", err)
		return 1
	}

	kp, err := signer.LoadOrGenerate(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "load owner key failed: %v\n", err)
		return 1
	}

	log, err := buildLogger(*debug)
	if err != nil {
		fmt.Fprintf(stderr, "build logger failed: %v\n", err)
		return 1
	}

	seqStore, err := persistence.New[seqmap.Record](filepath.Join(*dataDir, "seqmap.jsonl"))
	if err != nil {
		fmt.Fprintf(stderr, "open seqmap store failed: %v\n", err)
		return 1
	}
	removedStore, err := persistence.New[removedset.Record](filepath.Join(*dataDir, "removed.jsonl"))
	if err != nil {
		fmt.Fprintf(stderr, "open removed-set store failed: %v\n", err)
		return 1
	}
	protectedBacking, err := persistence.New[protectedstore.Record](filepath.Join(*dataDir, "protected.jsonl"))
	if err != nil {
		fmt.Fprintf(stderr, "open protected store failed: %v\n", err)
		return 1
	}

	cfg := config.Defaults()

	seqMap, removedSet, protectedStore, err := loadStores(cfg, seqStore, removedStore, protectedBacking)
	if err != nil {
		fmt.Fprintf(stderr, "load stores failed: %v\n", err)
		return 1
	}

	m := metrics.New()
	hub := broadcast.NewHub()

	store := datastorage.New(datastorage.Deps{
		SeqMap:         seqMap,
		RemovedSet:     removedSet,
		ProtectedStore: protectedStore,
		Broadcaster:    hub,
		Config:         cfg,
		Metrics:        m,
		Log:            log,
	})
	if err := store.LoadPersisted(); err != nil {
		fmt.Fprintf(stderr, "reload persisted entries failed: %v\n", err)
		return 1
	}

	appendOnly := appendstore.New(appendstore.Deps{Broadcaster: hub})

	// dispatcher is this node's network.MessageListener: once a
	// NetworkNode is wired in, AddMessageListener(dispatcher) hands it
	// every inbound envelope. decoder is left nil here since concrete
	// on-wire byte decoding is a payload-class concern outside this
	// module — a real deployment supplies its own.
	dispatcher := getdata.NewDispatcher(store, appendOnly, nil, log)
	log.Debug("dispatcher: ready, awaiting a NetworkNode to register against")
	_ = dispatcher

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store.Start(ctx)
	statusPath := filepath.Join(*dataDir, "status.json")
	go snapshotLoop(ctx, m, statusPath, 10*time.Second)

	fmt.Fprintf(stdout, "READY data_dir=%s owner_pub=%x\n", *dataDir, []byte(kp.Public))
	<-ctx.Done()
	store.Stop()
	_ = m.WriteSnapshot(statusPath)
	return 0
}

// loadStores loads the sequence-number map, revocation set, and
// protected-entry store concurrently, using a readygate.Gate to signal
// the moment all three have finished.
func loadStores(
	cfg config.Params,
	seqStore *persistence.Store[seqmap.Record],
	removedStore *persistence.Store[removedset.Record],
	protectedBacking *persistence.Store[protectedstore.Record],
) (*seqmap.Map, *removedset.Set, *protectedstore.Store, error) {
	var (
		seqMap         *seqmap.Map
		removedSet     *removedset.Set
		protectedStore *protectedstore.Store
		errMu          sync.Mutex
		firstErr       error
	)
	recordErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	ready := make(chan struct{})
	gate := readygate.New(3, func() { close(ready) })

	go func() {
		defer gate.Signal()
		sm, err := seqmap.New(seqStore, nil, cfg.PurgeAge)
		if err != nil {
			recordErr(fmt.Errorf("sequence-number map: %w", err))
			return
		}
		seqMap = sm
	}()
	go func() {
		defer gate.Signal()
		rs, err := removedset.New(removedStore)
		if err != nil {
			recordErr(fmt.Errorf("revocation set: %w", err))
			return
		}
		removedSet = rs
	}()
	go func() {
		defer gate.Signal()
		ps, err := protectedstore.New(protectedBacking)
		if err != nil {
			recordErr(fmt.Errorf("protected-entry store: %w", err))
			return
		}
		protectedStore = ps
	}()

	<-ready
	return seqMap, removedSet, protectedStore, firstErr
}

func buildLogger(debug bool) (*applog.Logger, error) {
	if !debug {
		return applog.New(nil), nil
	}
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return applog.New(z), nil
}

func snapshotLoop(ctx context.Context, m *metrics.Metrics, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.WriteSnapshot(path)
		}
	}
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", homeDir(), "directory status.json was written under")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	data, err := os.ReadFile(filepath.Join(*dataDir, "status.json"))
	if err != nil {
		fmt.Fprintf(stderr, "status unavailable: %v\n", err)
		return 1
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		fmt.Fprintf(stderr, "status unreadable: %v\n", err)
		return 1
	}
	pretty, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Fprintln(stdout, string(pretty))
	return 0
}
