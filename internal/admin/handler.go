// Package admin exposes the control surface over a unix-socket HTTP
// listener. Every endpoint is POST-only JSON with an action field; the
// error taxonomy maps onto HTTP statuses here and nowhere else.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kk-code-lab/chronolake/internal/apierror"
	"github.com/kk-code-lab/chronolake/internal/ops"
	"github.com/kk-code-lab/chronolake/internal/rules"
	"github.com/kk-code-lab/chronolake/internal/server"
)

const tokenHeader = "X-Chronolake-Admin-Token"

type Handler struct {
	Addr      string
	Server    *server.Server
	AuthToken string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Server == nil {
		writeAdminError(w, http.StatusInternalServerError, "server not initialized")
		return
	}
	if !h.authorize(r) {
		writeAdminError(w, http.StatusForbidden, "admin token required")
		return
	}
	if r.Method != http.MethodPost {
		writeAdminError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch r.URL.Path {
	case "/admin/databases":
		h.handleDatabases(w, r)
	case "/admin/partitions":
		h.handlePartitions(w, r)
	case "/admin/operations":
		h.handleOperations(w, r)
	case "/admin/status":
		h.handleStatus(w, r)
	case "/admin/catalog":
		h.handleCatalog(w, r)
	default:
		writeAdminError(w, http.StatusNotFound, "unknown admin endpoint")
	}
}

func (h *Handler) authorize(r *http.Request) bool {
	if h.AuthToken == "" {
		return false
	}
	token := strings.TrimSpace(r.Header.Get(tokenHeader))
	return token != "" && token == h.AuthToken
}

func (h *Handler) handleDatabases(w http.ResponseWriter, r *http.Request) {
	var req DatabasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "create":
		if req.Rules == nil {
			writeAdminError(w, http.StatusBadRequest, "rules required")
			return
		}
		status, op, err := h.Server.CreateDatabase(r.Context(), *req.Rules)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		id := op.ID()
		writeAdminJSON(w, OperationResponse{Result: status, OperationID: &id})
	case "get":
		if req.Name == "" {
			writeAdminError(w, http.StatusBadRequest, "name required")
			return
		}
		db, err := h.Server.GetDatabase(req.Name)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		provided, err := db.Rules()
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, provided.View(req.OmitDefaults))
	case "update-rules":
		if req.Rules == nil {
			writeAdminError(w, http.StatusBadRequest, "rules required")
			return
		}
		active, err := h.Server.UpdateDatabaseRules(*req.Rules)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, active)
	case "list":
		names, err := h.Server.ListDatabases(req.OmitDefaults)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		if names == nil {
			names = []rules.Rules{}
		}
		writeAdminJSON(w, names)
	case "list-detailed":
		writeAdminJSON(w, h.Server.ListDetailedDatabases())
	case "release":
		if req.Name == "" {
			writeAdminError(w, http.StatusBadRequest, "name required")
			return
		}
		var expected *uuid.UUID
		if req.ID != "" {
			parsed, err := uuid.Parse(req.ID)
			if err != nil {
				writeAdminError(w, http.StatusBadRequest, "malformed identifier")
				return
			}
			expected = &parsed
		}
		id, err := h.Server.ReleaseDatabase(req.Name, expected)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, ReleaseResponse{Name: req.Name, ID: id.String()})
	case "claim":
		parsed, err := uuid.Parse(req.ID)
		if err != nil {
			writeAdminError(w, http.StatusBadRequest, "malformed identifier")
			return
		}
		name, err := h.Server.ClaimDatabase(parsed)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, ClaimResponse{Name: name})
	case "skip-replay":
		if req.Name == "" {
			writeAdminError(w, http.StatusBadRequest, "name required")
			return
		}
		if err := h.Server.SkipReplay(req.Name); err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, map[string]string{"status": "ok"})
	default:
		writeAdminError(w, http.StatusBadRequest, "unknown databases action")
	}
}

func (h *Handler) handlePartitions(w http.ResponseWriter, r *http.Request) {
	var req PartitionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.DB == "" {
		writeAdminError(w, http.StatusBadRequest, "db required")
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "list":
		parts, err := h.Server.ListPartitions(req.DB)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, parts)
	case "get":
		if err := requirePartition(w, req); err != nil {
			return
		}
		part, err := h.Server.GetPartition(req.DB, req.Table, req.Partition)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, part)
	case "list-chunks":
		if req.Table == "" {
			chunks, err := h.Server.ListChunks(req.DB)
			if err != nil {
				writeAPIError(w, err)
				return
			}
			writeAdminJSON(w, chunks)
			return
		}
		if err := requirePartition(w, req); err != nil {
			return
		}
		chunks, err := h.Server.ListPartitionChunks(req.DB, req.Table, req.Partition)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, chunks)
	case "write":
		if err := requirePartition(w, req); err != nil {
			return
		}
		sum, err := h.Server.WriteChunkData(r.Context(), req.DB, req.Table, req.Partition, req.Rows, req.Data)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, sum)
	case "new-chunk":
		if err := requirePartition(w, req); err != nil {
			return
		}
		open, op, err := h.Server.NewPartitionChunk(r.Context(), req.DB, req.Table, req.Partition)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		resp := OperationResponse{Result: open}
		if op != nil {
			id := op.ID()
			resp.OperationID = &id
		}
		writeAdminJSON(w, resp)
	case "close-chunk":
		if err := requireChunk(w, req); err != nil {
			return
		}
		sum, err := h.Server.CloseChunk(r.Context(), req.DB, req.Table, req.Partition, *req.ChunkID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, sum)
	case "unload-chunk":
		if err := requireChunk(w, req); err != nil {
			return
		}
		sum, err := h.Server.UnloadChunk(r.Context(), req.DB, req.Table, req.Partition, *req.ChunkID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, sum)
	case "persist":
		if err := requirePartition(w, req); err != nil {
			return
		}
		op, err := h.Server.PersistPartition(req.DB, req.Table, req.Partition, req.Force)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		id := op.ID()
		writeAdminJSON(w, OperationResponse{OperationID: &id})
	case "drop":
		if err := requirePartition(w, req); err != nil {
			return
		}
		if err := h.Server.DropPartition(r.Context(), req.DB, req.Table, req.Partition); err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, map[string]string{"status": "ok"})
	default:
		writeAdminError(w, http.StatusBadRequest, "unknown partitions action")
	}
}

func requirePartition(w http.ResponseWriter, req PartitionsRequest) error {
	if req.Table == "" || req.Partition == "" {
		writeAdminError(w, http.StatusBadRequest, "table and partition required")
		return errors.New("missing partition")
	}
	return nil
}

func requireChunk(w http.ResponseWriter, req PartitionsRequest) error {
	if err := requirePartition(w, req); err != nil {
		return err
	}
	if req.ChunkID == nil {
		writeAdminError(w, http.StatusBadRequest, "chunk_id required")
		return errors.New("missing chunk id")
	}
	return nil
}

func (h *Handler) handleOperations(w http.ResponseWriter, r *http.Request) {
	var req OperationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	tracker := h.Server.Tracker()
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "list":
		summaries := tracker.List()
		if summaries == nil {
			summaries = []ops.Summary{}
		}
		writeAdminJSON(w, summaries)
	case "get":
		sum, err := tracker.Get(req.ID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, sum)
	case "cancel":
		if err := tracker.Cancel(req.ID); err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, map[string]string{"status": "ok"})
	case "ack":
		if err := tracker.Ack(req.ID); err != nil {
			writeAPIError(w, err)
			return
		}
		writeAdminJSON(w, map[string]string{"status": "ok"})
	case "dummy":
		op, err := h.Server.CreateDummyJob(req.Duration)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		id := op.ID()
		writeAdminJSON(w, OperationResponse{OperationID: &id})
	default:
		writeAdminError(w, http.StatusBadRequest, "unknown operations action")
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeAdminJSON(w, h.Server.GetServerStatus())
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	var req CatalogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "wipe":
		if req.DB == "" {
			writeAdminError(w, http.StatusBadRequest, "db required")
			return
		}
		op, err := h.Server.WipePreservedCatalog(req.DB)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		id := op.ID()
		writeAdminJSON(w, OperationResponse{OperationID: &id})
	default:
		writeAdminError(w, http.StatusBadRequest, "unknown catalog action")
	}
}

func writeAdminJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAdminError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeAPIError maps the error taxonomy onto HTTP statuses.
func writeAPIError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		writeAdminError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeAdminError(w, apierror.KindOf(err).HTTPStatus(), err.Error())
}
