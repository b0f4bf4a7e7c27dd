package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kk-code-lab/chronolake/internal/admin"
	"github.com/kk-code-lab/chronolake/internal/ops"
	"github.com/kk-code-lab/chronolake/internal/server"
)

const (
	adminSocketName = ".chronolake-admin.sock"
	adminTokenName  = ".chronolake-admin.token"
)

type adminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// adminClientIfRunning connects to the admin socket of a live server,
// identified by a fresh heartbeat in the data dir.
func adminClientIfRunning(dataDir string) (*adminClient, bool, error) {
	if dataDir == "" {
		return nil, false, nil
	}
	status, err := readHeartbeatStatus(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !status.Fresh {
		return nil, false, nil
	}
	socketPath := status.Data.AdminSocket
	if socketPath == "" {
		socketPath = filepath.Join(dataDir, adminSocketName)
	}
	tokenPath := status.Data.AdminTokenPath
	if tokenPath == "" {
		tokenPath = filepath.Join(dataDir, adminTokenName)
	}
	tokenBytes, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, false, err
	}
	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return nil, false, fmt.Errorf("admin token missing")
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return net.Dial("unix", socketPath)
		},
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   0,
	}
	return &adminClient{
		baseURL:    "http://unix",
		token:      token,
		httpClient: client,
	}, true, nil
}

// Typed helpers for each chronolake admin endpoint. Callers hand in the
// wire request and the response shape they expect back.

func (c *adminClient) databases(req admin.DatabasesRequest, out any) error {
	return c.post("/admin/databases", req, out)
}

func (c *adminClient) partitions(req admin.PartitionsRequest, out any) error {
	return c.post("/admin/partitions", req, out)
}

func (c *adminClient) operations(req admin.OperationsRequest, out any) error {
	return c.post("/admin/operations", req, out)
}

func (c *adminClient) operationSummary(id uint64) (ops.Summary, error) {
	var sum ops.Summary
	err := c.operations(admin.OperationsRequest{Action: "get", ID: id}, &sum)
	return sum, err
}

func (c *adminClient) serverStatus() (server.ServerStatus, error) {
	var st server.ServerStatus
	err := c.post("/admin/status", struct{}{}, &st)
	return st, err
}

func (c *adminClient) wipeCatalog(db string) (admin.OperationResponse, error) {
	var resp admin.OperationResponse
	err := c.post("/admin/catalog", admin.CatalogRequest{Action: "wipe", DB: db}, &resp)
	return resp, err
}

func (c *adminClient) post(path string, reqPayload any, respPayload any) error {
	if c == nil {
		return fmt.Errorf("admin client not initialized")
	}
	body, err := json.Marshal(reqPayload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(admin.TokenHeader(), c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		var errPayload map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errPayload)
		if msg := errPayload["error"]; msg != "" {
			return fmt.Errorf("admin error: %s", msg)
		}
		return fmt.Errorf("admin request failed: %s", resp.Status)
	}
	if respPayload == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respPayload)
}

func defaultAdminSocketPath(dataDir string) string {
	return filepath.Join(dataDir, adminSocketName)
}

func defaultAdminTokenPath(dataDir string) string {
	return filepath.Join(dataDir, adminTokenName)
}
