package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kk-code-lab/chronolake/internal/admin"
	"github.com/kk-code-lab/chronolake/internal/server"
)

func startAdminServer(ctx context.Context, dataDir string, srv *server.Server) (*http.Server, net.Listener, error) {
	socketPath := defaultAdminSocketPath(dataDir)
	tokenPath := defaultAdminTokenPath(dataDir)
	token, err := writeAdminToken(tokenPath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		_ = os.Remove(tokenPath)
		return nil, nil, err
	}
	_ = os.Chmod(socketPath, 0o600)
	handler := &admin.Handler{
		Addr:      socketPath,
		Server:    srv,
		AuthToken: token,
	}
	httpServer := &http.Server{
		Handler:           admin.LoggingMiddleware(handler, nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = httpServer.Serve(ln)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	return httpServer, ln, nil
}

func writeAdminToken(path string) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	token, err := admin.NewToken()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	return token, nil
}
