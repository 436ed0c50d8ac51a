// Command ewigctl is a small demonstration CLI wiring append, at,
// reconstruct, branch, and query, plus a log verify, against an
// on-disk engine (merge and sync have no subcommand): signal-aware
// context and slog bring-up in a flag-based subcommand dispatcher.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/swarmguard/ewig"
	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/wireformat"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmdArgs := os.Args[2:]
	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	dataDir := fs.String("data", "./ewig-data", "engine data directory")

	switch os.Args[1] {
	case "append":
		runAppend(ctx, fs, cmdArgs, dataDir)
	case "at":
		runAt(ctx, fs, cmdArgs, dataDir)
	case "reconstruct":
		runReconstruct(ctx, fs, cmdArgs, dataDir)
	case "branch":
		runBranch(ctx, fs, cmdArgs, dataDir)
	case "verify":
		runVerify(ctx, fs, cmdArgs, dataDir)
	case "query":
		runQuery(ctx, fs, cmdArgs, dataDir)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ewigctl <append|at|reconstruct|branch|verify|query> [flags]")
}

func openEngine(dataDir string) (*ewig.Engine, *slog.Logger) {
	logger := slog.Default()
	eng, err := ewig.New(
		ewig.WithDataDir(dataDir),
		ewig.WithCASBackend(ewig.CASFile),
		ewig.WithApplyFunc(identityApply),
	)
	if err != nil {
		logger.Error("ewig: open engine failed", "error", err)
		os.Exit(1)
	}
	return eng, logger
}

// identityApply is a placeholder state-transition function for the
// demonstration CLI: it concatenates every payload in order. A real
// integration supplies its own ApplyFunc.
func identityApply(state []byte, ev eventlog.Event) ([]byte, error) {
	return append(state, ev.Payload...), nil
}

func runAppend(ctx context.Context, fs *flag.FlagSet, args []string, dataDir *string) {
	world := fs.String("world", "world://default", "world URI")
	typ := fs.Uint("type", 0, "event type byte")
	payload := fs.String("payload", "", "event payload (raw text)")
	fs.Parse(args)

	eng, logger := openEngine(*dataDir)
	defer eng.Close()

	ev, err := eng.Append(ctx, *world, wireformat.EventType(*typ), []byte(*payload))
	if err != nil {
		logger.Error("append failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("appended seq=%d hash=%s\n", ev.Seq, hex.EncodeToString(ev.Hash[:]))
}

func runAt(ctx context.Context, fs *flag.FlagSet, args []string, dataDir *string) {
	world := fs.String("world", "world://default", "world URI")
	ts := fs.Int64("t", 0, "timestamp (unix nanoseconds)")
	fs.Parse(args)

	eng, logger := openEngine(*dataDir)
	defer eng.Close()

	h, err := eng.At(*world, *ts)
	if err != nil {
		logger.Error("at failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(hex.EncodeToString(h[:]))
}

func runReconstruct(ctx context.Context, fs *flag.FlagSet, args []string, dataDir *string) {
	hashHex := fs.String("hash", "", "event hash (hex)")
	fs.Parse(args)

	eng, logger := openEngine(*dataDir)
	defer eng.Close()

	h, err := parseHash(*hashHex)
	if err != nil {
		logger.Error("invalid hash", "error", err)
		os.Exit(1)
	}
	snap, err := eng.Reconstruct(ctx, h)
	if err != nil {
		logger.Error("reconstruct failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("state_hash=%s seq=%d bytes=%d\n", hex.EncodeToString(snap.Hash[:]), snap.Seq, len(snap.Data))
}

func runBranch(ctx context.Context, fs *flag.FlagSet, args []string, dataDir *string) {
	sub := fs.String("sub", "list", "branch subcommand: create|list|switch|delete")
	name := fs.String("name", "", "branch name")
	world := fs.String("world", "world://default", "world URI")
	fs.Parse(args)

	eng, logger := openEngine(*dataDir)
	defer eng.Close()

	switch *sub {
	case "create":
		b, err := eng.CreateBranch(*name, *world, wireformat.ZeroHash)
		if err != nil {
			logger.Error("create branch failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("created %s\n", b.Name)
	case "list":
		for _, b := range eng.ListBranches() {
			fmt.Printf("%s\tworld=%s\thead=%s\n", b.Name, b.WorldURI, hex.EncodeToString(b.Head[:]))
		}
	case "switch":
		if err := eng.SwitchBranch(*name); err != nil {
			logger.Error("switch branch failed", "error", err)
			os.Exit(1)
		}
	case "delete":
		if err := eng.DeleteBranch(*name); err != nil {
			logger.Error("delete branch failed", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("unknown branch subcommand", "sub", *sub)
		os.Exit(2)
	}
}

func runVerify(ctx context.Context, fs *flag.FlagSet, args []string, dataDir *string) {
	fs.Parse(args)
	eng, logger := openEngine(*dataDir)
	defer eng.Close()

	if err := eng.Verify(); err != nil {
		logger.Error("verify failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func runQuery(ctx context.Context, fs *flag.FlagSet, args []string, dataDir *string) {
	sql := fs.String("sql", "SELECT * FROM events", "query statement")
	fs.Parse(args)

	eng, logger := openEngine(*dataDir)
	defer eng.Close()

	sel, err := eng.ParseQuery(*sql)
	if err != nil {
		logger.Error("parse query failed", "error", err)
		os.Exit(1)
	}
	result, err := eng.Query(sel)
	if err != nil {
		logger.Error("run query failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("%v\n", result)
}

func parseHash(s string) (wireformat.Hash, error) {
	var h wireformat.Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != wireformat.HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", wireformat.HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}
