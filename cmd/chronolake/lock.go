package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kk-code-lab/chronolake/internal/app"
)

const (
	lockFilename         = ".chronolake.lock"
	heartbeatInterval    = 5 * time.Second
	heartbeatStaleAfter  = 15 * time.Second
	heartbeatFileMode    = 0o644
	heartbeatTempSuffix  = ".tmp"
	heartbeatPromptLabel = "Continue anyway? [y/N] "
)

type serverHeartbeat struct {
	PID            int       `json:"pid"`
	AdminSocket    string    `json:"admin_socket"`
	AdminTokenPath string    `json:"admin_token_path"`
	StartedAt      time.Time `json:"started_at"`
	HeartbeatAt    time.Time `json:"heartbeat_at"`
	Version        string    `json:"version"`
	Commit         string    `json:"commit"`
}

type heartbeatStatus struct {
	Path    string
	ModTime time.Time
	Fresh   bool
	Data    serverHeartbeat
	HasData bool
}

type serverLock struct {
	path           string
	started        time.Time
	adminSocket    string
	adminTokenPath string
	stop           chan struct{}
	done           chan struct{}
	interval       time.Duration
}

func lockPath(dataDir string) string {
	return filepath.Join(dataDir, lockFilename)
}

func readHeartbeatStatus(dataDir string) (heartbeatStatus, error) {
	path := lockPath(dataDir)
	info, err := os.Stat(path)
	if err != nil {
		return heartbeatStatus{}, err
	}
	status := heartbeatStatus{
		Path:    path,
		ModTime: info.ModTime(),
	}
	status.Fresh = time.Since(info.ModTime()) <= heartbeatStaleAfter
	file, err := os.Open(path)
	if err == nil {
		defer func() { _ = file.Close() }()
		if err := json.NewDecoder(file).Decode(&status.Data); err == nil {
			status.HasData = true
		}
	}
	return status, nil
}

func acquireServerLock(dataDir, adminSocketPath, adminTokenPath string) (*serverLock, error) {
	path := lockPath(dataDir)
	if status, err := readHeartbeatStatus(dataDir); err == nil {
		if status.Fresh {
			return nil, formatLockConflict(status)
		}
		_ = os.Remove(path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	lockFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, heartbeatFileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			if status, err := readHeartbeatStatus(dataDir); err == nil && status.Fresh {
				return nil, formatLockConflict(status)
			}
		}
		return nil, err
	}
	_ = lockFile.Close()
	lock := &serverLock{
		path:           path,
		started:        time.Now().UTC(),
		adminSocket:    adminSocketPath,
		adminTokenPath: adminTokenPath,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		interval:       heartbeatInterval,
	}
	if err := lock.writeHeartbeat(); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	go lock.loop()
	return lock, nil
}

func (l *serverLock) loop() {
	ticker := time.NewTicker(l.interval)
	defer func() {
		ticker.Stop()
		close(l.done)
	}()
	for {
		select {
		case <-ticker.C:
			_ = l.writeHeartbeat()
		case <-l.stop:
			return
		}
	}
}

func (l *serverLock) writeHeartbeat() error {
	if l == nil || l.path == "" {
		return nil
	}
	payload := serverHeartbeat{
		PID:            os.Getpid(),
		AdminSocket:    l.adminSocket,
		AdminTokenPath: l.adminTokenPath,
		StartedAt:      l.started,
		HeartbeatAt:    time.Now().UTC(),
		Version:        app.Version,
		Commit:         app.BuildCommit,
	}
	data, err := json.Marshal(&payload)
	if err != nil {
		return err
	}
	tempPath := l.path + heartbeatTempSuffix
	if err := os.WriteFile(tempPath, data, heartbeatFileMode); err != nil {
		return err
	}
	return os.Rename(tempPath, l.path)
}

func (l *serverLock) Release() {
	if l == nil {
		return
	}
	close(l.stop)
	<-l.done
	_ = os.Remove(l.path)
}

func formatLockConflict(status heartbeatStatus) error {
	if status.HasData {
		return fmt.Errorf("server appears to be running (pid=%d heartbeat=%s)",
			status.Data.PID,
			status.ModTime.UTC().Format(time.RFC3339),
		)
	}
	return fmt.Errorf("server appears to be running (lock updated %s)",
		status.ModTime.UTC().Format(time.RFC3339),
	)
}

// confirmOfflineDestructive guards destructive offline modes against a live
// server: a fresh heartbeat means the catalog is in use, so the operator
// must confirm or pass -yes.
func confirmOfflineDestructive(dataDir string, assumeYes bool) error {
	if dataDir == "" {
		return nil
	}
	status, err := readHeartbeatStatus(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !status.Fresh {
		return nil
	}
	if assumeYes {
		fmt.Fprintf(os.Stderr, "chronolake: detected running server for %s (pid=%d); proceeding due to -yes\n", dataDir, status.Data.PID)
		return nil
	}
	if !isTerminal(os.Stdin) {
		return fmt.Errorf("server appears to be running for %s; stop it or re-run with -yes", dataDir)
	}
	fmt.Fprintf(os.Stderr, "chronolake: detected running server for %s (pid=%d last_heartbeat=%s)\n",
		dataDir, status.Data.PID, status.ModTime.UTC().Format(time.RFC3339))
	fmt.Fprint(os.Stderr, heartbeatPromptLabel)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "y", "yes":
		return nil
	default:
		return ErrAbortedByUser
	}
}

func isTerminal(file *os.File) bool {
	if file == nil {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
