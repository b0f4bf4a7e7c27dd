package admin

import "github.com/kk-code-lab/chronolake/internal/rules"

type DatabasesRequest struct {
	Action       string       `json:"action"`
	Name         string       `json:"name,omitempty"`
	Rules        *rules.Rules `json:"rules,omitempty"`
	ID           string       `json:"id,omitempty"`
	OmitDefaults bool         `json:"omit_defaults,omitempty"`
}

type PartitionsRequest struct {
	Action    string  `json:"action"`
	DB        string  `json:"db"`
	Table     string  `json:"table,omitempty"`
	Partition string  `json:"partition,omitempty"`
	ChunkID   *uint32 `json:"chunk_id,omitempty"`
	Force     bool    `json:"force,omitempty"`
	Rows      uint64  `json:"rows,omitempty"`
	Data      []byte  `json:"data,omitempty"`
}

type OperationsRequest struct {
	Action   string `json:"action"`
	ID       uint64 `json:"id,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type CatalogRequest struct {
	Action string `json:"action"`
	DB     string `json:"db"`
}

// OperationResponse wraps a mutating call's result with the handle of any
// spawned background work.
type OperationResponse struct {
	Result      any     `json:"result,omitempty"`
	OperationID *uint64 `json:"operation_id,omitempty"`
}

type ReleaseResponse struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type ClaimResponse struct {
	Name string `json:"name"`
}
