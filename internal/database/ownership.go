package database

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Ownership is the durable marker tying a database directory to its
// identifier and current owner. It survives release/claim cycles so a
// detached database can prove its identity to the next claimant.
type Ownership struct {
	ID        uuid.UUID `json:"id"`
	ServerID  string    `json:"server_id,omitempty"`
	Released  bool      `json:"released"`
	UpdatedAt time.Time `json:"updated_at"`
}

func writeOwnership(path string, marker Ownership) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("ownership: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("ownership: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ownership: rename: %w", err)
	}
	return nil
}

func ReadOwnership(path string) (Ownership, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Ownership{}, err
	}
	var marker Ownership
	if err := json.Unmarshal(data, &marker); err != nil {
		return Ownership{}, fmt.Errorf("ownership: parse %s: %w", path, err)
	}
	if marker.ID == uuid.Nil {
		return Ownership{}, fmt.Errorf("ownership: %s carries no identifier", path)
	}
	return marker, nil
}
