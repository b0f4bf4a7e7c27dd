package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kk-code-lab/chronolake/internal/app"
	"github.com/kk-code-lab/chronolake/internal/server"
	"github.com/kk-code-lab/chronolake/internal/storage/fs"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	showVersionShort := flag.Bool("v", false, "Print version and exit (shorthand)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	serverID := flag.String("server-id", defaultServerID(), "Server identifier recorded in ownership markers")
	mode := flag.String("mode", "server", "Mode: server|status|databases|partitions|operations|wipe-catalog")
	action := flag.String("action", "", "Client action for databases|partitions|operations modes")
	dbName := flag.String("db", "", "Database name")
	dbID := flag.String("id", "", "Database identifier for release/claim")
	rulesFile := flag.String("rules", "", "Path to a rules yaml file for create/update-rules")
	table := flag.String("table", "", "Table name")
	partition := flag.String("partition", "", "Partition key")
	chunkID := flag.Int64("chunk", -1, "Chunk id")
	force := flag.Bool("force", false, "Force persist")
	opID := flag.Uint64("op-id", 0, "Operation id")
	duration := flag.String("duration", "", "Dummy job duration")
	omitDefaults := flag.Bool("omit-defaults", false, "Show submitted rules instead of merged active rules")
	assumeYes := flag.Bool("yes", false, "Skip live-server confirmation prompts")
	jsonOut := flag.Bool("json", false, "Output as JSON")
	showModeHelp := flag.Bool("mode-help", false, "Show help for the selected mode")
	flag.Parse()

	if *showVersion || *showVersionShort {
		fmt.Printf("chronolake %s (commit %s)\n", app.Version, app.BuildCommit)
		return
	}
	if *showModeHelp {
		printModeHelp(*mode)
		return
	}
	if flag.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "unknown arguments:", flag.Args())
		os.Exit(2)
	}

	args := clientArgs{
		dataDir:      *dataDir,
		action:       *action,
		db:           *dbName,
		id:           *dbID,
		rulesFile:    *rulesFile,
		table:        *table,
		partition:    *partition,
		chunkID:      *chunkID,
		force:        *force,
		opID:         *opID,
		duration:     *duration,
		omitDefaults: *omitDefaults,
		assumeYes:    *assumeYes,
		jsonOut:      *jsonOut,
	}

	var err error
	switch *mode {
	case "server":
		err = runServer(*dataDir, *serverID)
	case "status":
		err = runStatus(args)
	case "databases":
		err = runDatabases(args)
	case "partitions":
		err = runPartitions(args)
	case "operations":
		err = runOperations(args)
	case "wipe-catalog":
		err = runWipeCatalog(args)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "chronolake: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func runServer(dataDir, serverID string) error {
	if err := ensureDataDir(dataDir); err != nil {
		return err
	}
	socketPath := defaultAdminSocketPath(dataDir)
	tokenPath := defaultAdminTokenPath(dataDir)
	lock, err := acquireServerLock(dataDir, socketPath, tokenPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	srv := server.New(server.Options{
		ID:     serverID,
		Layout: fs.NewLayout(dataDir),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := srv.Bootstrap(ctx); err != nil {
		return err
	}

	httpServer, ln, err := startAdminServer(ctx, dataDir, srv)
	if err != nil {
		return err
	}
	fmt.Printf("chronolake %s (commit %s) server=%s data=%s admin=%s\n",
		app.Version, app.BuildCommit, serverID, dataDir, socketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("chronolake: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = ln.Close()
	_ = os.Remove(socketPath)
	_ = os.Remove(tokenPath)
	return nil
}

func ensureDataDir(dataDir string) error {
	if dataDir == "" {
		return ErrDataDirRequired
	}
	return os.MkdirAll(dataDir, 0o755)
}

func defaultServerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "chronolake"
	}
	return host
}

func printModeHelp(mode string) {
	switch mode {
	case "server":
		fmt.Println("Mode server: run the control-plane server with its admin socket.")
		fmt.Println("Flags: -data-dir, -server-id")
	case "status":
		fmt.Println("Mode status: print server and per-database status with humanized sizes.")
		fmt.Println("Flags: -data-dir, -json")
	case "databases":
		fmt.Println("Mode databases: manage database lifecycle through the admin socket.")
		fmt.Println("Actions: list, list-detailed, create, get, update-rules, release, claim, skip-replay")
		fmt.Println("Flags: -db, -id, -rules, -omit-defaults, -json")
	case "partitions":
		fmt.Println("Mode partitions: inspect and drive partitions/chunks.")
		fmt.Println("Actions: list, get, chunks, new-chunk, close-chunk, unload-chunk, persist, drop")
		fmt.Println("Flags: -db, -table, -partition, -chunk, -force, -json")
	case "operations":
		fmt.Println("Mode operations: inspect tracked background work.")
		fmt.Println("Actions: list, get, cancel, ack, dummy")
		fmt.Println("Flags: -op-id, -duration, -json")
	case "wipe-catalog":
		fmt.Println("Mode wipe-catalog: rebuild a database's preserved catalog from durable chunk files.")
		fmt.Println("Runs through the admin socket when the server is live, offline otherwise.")
		fmt.Println("Flags: -db, -yes, -json")
	default:
		fmt.Printf("Unknown mode %q\n", mode)
	}
}
