package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/kk-code-lab/chronolake/internal/admin"
	"github.com/kk-code-lab/chronolake/internal/database"
	"github.com/kk-code-lab/chronolake/internal/ops"
	"github.com/kk-code-lab/chronolake/internal/rules"
	"github.com/kk-code-lab/chronolake/internal/storage/fs"
)

type clientArgs struct {
	dataDir      string
	action       string
	db           string
	id           string
	rulesFile    string
	table        string
	partition    string
	chunkID      int64
	force        bool
	opID         uint64
	duration     string
	omitDefaults bool
	assumeYes    bool
	jsonOut      bool
}

func requireClient(dataDir string) (*adminClient, error) {
	client, running, err := adminClientIfRunning(dataDir)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, fmt.Errorf("no running server found for %s", dataDir)
	}
	return client, nil
}

func runStatus(args clientArgs) error {
	client, running, err := adminClientIfRunning(args.dataDir)
	if err != nil {
		return err
	}
	if running {
		st, err := client.serverStatus()
		if err != nil {
			return err
		}
		if args.jsonOut {
			return writeJSON(st)
		}
		fmt.Printf("server initialized=%t databases=%d\n", st.Initialized, len(st.Databases))
		if st.Error != "" {
			fmt.Printf("error=%s\n", st.Error)
		}
		for _, db := range st.Databases {
			line := fmt.Sprintf("  db=%s state=%s", db.Name, db.State)
			if db.Error != "" {
				line += " error=" + db.Error
			}
			fmt.Println(line)
		}
		return nil
	}
	return offlineStatus(args)
}

// offlineStatus reads the data dir directly: database directories, their
// ownership markers, and durable chunk sizes.
func offlineStatus(args clientArgs) error {
	layout := fs.NewLayout(args.dataDir)
	names, err := layout.ListDatabaseDirs()
	if err != nil {
		return err
	}
	type dbStatus struct {
		Name       string `json:"name"`
		ID         string `json:"id,omitempty"`
		Released   bool   `json:"released"`
		ChunkFiles int    `json:"chunk_files"`
		Bytes      int64  `json:"bytes"`
	}
	statuses := make([]dbStatus, 0, len(names))
	for _, name := range names {
		st := dbStatus{Name: name}
		if marker, err := database.ReadOwnership(layout.OwnershipPath(name)); err == nil {
			st.ID = marker.ID.String()
			st.Released = marker.Released
		}
		entries, err := os.ReadDir(layout.ChunksDir(name))
		if err == nil {
			for _, entry := range entries {
				info, err := entry.Info()
				if err != nil {
					continue
				}
				st.ChunkFiles++
				st.Bytes += info.Size()
			}
		}
		statuses = append(statuses, st)
	}
	if args.jsonOut {
		return writeJSON(statuses)
	}
	fmt.Printf("server not running, reading %s directly\n", args.dataDir)
	for _, st := range statuses {
		fmt.Printf("  db=%s id=%s released=%t chunks=%d size=%s\n",
			st.Name, st.ID, st.Released, st.ChunkFiles, humanize.IBytes(uint64(st.Bytes)))
	}
	return nil
}

func runDatabases(args clientArgs) error {
	client, err := requireClient(args.dataDir)
	if err != nil {
		return err
	}
	req := admin.DatabasesRequest{
		Action:       args.action,
		Name:         args.db,
		ID:           args.id,
		OmitDefaults: args.omitDefaults,
	}
	switch args.action {
	case "create", "update-rules":
		if args.db == "" {
			return ErrDatabaseRequired
		}
		submitted, err := loadSubmittedRules(args.rulesFile, args.db)
		if err != nil {
			return err
		}
		req.Rules = submitted
	case "get", "release", "skip-replay":
		if args.db == "" {
			return ErrDatabaseRequired
		}
	case "claim":
		if args.id == "" {
			return ErrIdentifierRequired
		}
	case "list", "list-detailed":
	default:
		return fmt.Errorf("unknown databases action %q", args.action)
	}
	var resp any
	if err := client.databases(req, &resp); err != nil {
		return err
	}
	return writeJSON(resp)
}

// loadSubmittedRules reads a rules yaml file when one is given, otherwise
// returns bare rules under the database name so defaults apply server-side.
func loadSubmittedRules(path, dbName string) (*rules.Rules, error) {
	if path == "" {
		return &rules.Rules{Name: dbName}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var submitted rules.Rules
	if err := yaml.Unmarshal(data, &submitted); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	if submitted.Name == "" {
		submitted.Name = dbName
	}
	if submitted.Name != dbName {
		return nil, fmt.Errorf("rules file names database %q, -db is %q", submitted.Name, dbName)
	}
	return &submitted, nil
}

func runPartitions(args clientArgs) error {
	client, err := requireClient(args.dataDir)
	if err != nil {
		return err
	}
	if args.db == "" {
		return ErrDatabaseRequired
	}
	req := admin.PartitionsRequest{
		Action:    args.action,
		DB:        args.db,
		Table:     args.table,
		Partition: args.partition,
		Force:     args.force,
	}
	// CLI action names map onto the wire actions.
	switch args.action {
	case "chunks":
		req.Action = "list-chunks"
	case "close-chunk", "unload-chunk":
		if args.chunkID < 0 {
			return ErrChunkRequired
		}
		id := uint32(args.chunkID)
		req.ChunkID = &id
	case "list", "get", "new-chunk", "persist", "drop":
	default:
		return fmt.Errorf("unknown partitions action %q", args.action)
	}
	var resp any
	if err := client.partitions(req, &resp); err != nil {
		return err
	}
	return writeJSON(resp)
}

func runOperations(args clientArgs) error {
	client, err := requireClient(args.dataDir)
	if err != nil {
		return err
	}
	req := admin.OperationsRequest{Action: args.action, ID: args.opID, Duration: args.duration}
	switch args.action {
	case "list", "dummy":
	case "get", "cancel", "ack":
		if args.opID == 0 {
			return ErrOperationRequired
		}
	default:
		return fmt.Errorf("unknown operations action %q", args.action)
	}
	var resp any
	if err := client.operations(req, &resp); err != nil {
		return err
	}
	return writeJSON(resp)
}

func runWipeCatalog(args clientArgs) error {
	if args.db == "" {
		return ErrDatabaseRequired
	}
	client, running, err := adminClientIfRunning(args.dataDir)
	if err != nil {
		return err
	}
	if running {
		resp, err := client.wipeCatalog(args.db)
		if err != nil {
			return err
		}
		if resp.OperationID == nil {
			return fmt.Errorf("wipe returned no operation handle")
		}
		sum, err := waitForRemoteOperation(client, *resp.OperationID)
		if err != nil {
			return err
		}
		return writeJSON(sum)
	}

	// Offline repair path: bring the database up far enough to rebuild.
	if err := confirmOfflineDestructive(args.dataDir, args.assumeYes); err != nil {
		return err
	}
	ctx := context.Background()
	db := database.Open(database.Options{Name: args.db, Layout: fs.NewLayout(args.dataDir)})
	defer db.Close()
	db.Initialize(ctx)
	res, err := db.WipeCatalog(ctx)
	if err != nil {
		return err
	}
	if args.jsonOut {
		return writeJSON(res)
	}
	fmt.Printf("catalog rebuilt db=%s discovered=%d skipped=%d\n", args.db, res.Discovered, res.Skipped)
	for _, sample := range res.ErrorSample {
		fmt.Printf("  skipped: %s\n", sample)
	}
	return nil
}

func waitForRemoteOperation(client *adminClient, id uint64) (ops.Summary, error) {
	deadline := time.Now().Add(time.Minute)
	for {
		sum, err := client.operationSummary(id)
		if err != nil {
			return ops.Summary{}, err
		}
		if sum.Status != ops.StatusRunning {
			if sum.Error != "" {
				return sum, &exitCodeError{code: 3, msg: fmt.Sprintf("operation %d failed: %s", id, sum.Error)}
			}
			return sum, nil
		}
		if time.Now().After(deadline) {
			return sum, fmt.Errorf("operation %d still running", id)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
