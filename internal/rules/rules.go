// Package rules holds per-database configuration: the document exactly as a
// tenant submitted it, and the active form with defaults filled in.
package rules

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kk-code-lab/chronolake/internal/apierror"
)

// Defaults applied when a submitted rules document leaves a field unset.
const (
	DefaultPartitionTemplate  = "2006-01-02T15"
	DefaultMutableBufferBytes = int64(64 << 20)
	DefaultChunkCloseRows     = int64(1_000_000)
	DefaultChunkCloseAge      = 10 * time.Minute
	DefaultPersistAge         = 30 * time.Minute
	DefaultLateArrivalWindow  = 5 * time.Minute
	DefaultWorkerConcurrency  = 4
)

// MaxNameLen bounds database names.
const MaxNameLen = 64

// Rules is a database rules document.
type Rules struct {
	Name string `yaml:"name" json:"name"`

	// PartitionTemplate is a time layout producing the partition key for a
	// row's timestamp, e.g. "2006-01-02T15" buckets by hour.
	PartitionTemplate string `yaml:"partition_template,omitempty" json:"partition_template,omitempty"`

	MutableBufferBytes int64         `yaml:"mutable_buffer_bytes,omitempty" json:"mutable_buffer_bytes,omitempty"`
	ChunkCloseRows     int64         `yaml:"chunk_close_rows,omitempty" json:"chunk_close_rows,omitempty"`
	ChunkCloseAge      time.Duration `yaml:"chunk_close_age,omitempty" json:"chunk_close_age_nanos,omitempty"`
	PersistAge         time.Duration `yaml:"persist_age,omitempty" json:"persist_age_nanos,omitempty"`
	LateArrivalWindow  time.Duration `yaml:"late_arrival_window,omitempty" json:"late_arrival_window_nanos,omitempty"`
	WorkerConcurrency  int           `yaml:"worker_concurrency,omitempty" json:"worker_concurrency,omitempty"`
}

// Provided pairs a submitted rules document with its merged active form.
type Provided struct {
	original Rules
	active   Rules
}

// New validates a submitted document and merges defaults.
func New(submitted Rules) (*Provided, error) {
	if err := ValidateName(submitted.Name); err != nil {
		return nil, err
	}
	if err := validateFields(submitted); err != nil {
		return nil, err
	}
	return &Provided{
		original: submitted,
		active:   withDefaults(submitted),
	}, nil
}

// Original returns the rules exactly as the tenant submitted them.
func (p *Provided) Original() Rules {
	return p.original
}

// Active returns the rules with defaults filled in.
func (p *Provided) Active() Rules {
	return p.active
}

// Name returns the database name.
func (p *Provided) Name() string {
	return p.original.Name
}

// View returns the original document when omitDefaults is set, otherwise the
// active one.
func (p *Provided) View(omitDefaults bool) Rules {
	if omitDefaults {
		return p.original
	}
	return p.active
}

// Save writes the submitted document to path as yaml. Only the original form
// is persisted; defaults are re-merged on load so documented defaults can
// change between releases.
func (p *Provided) Save(path string) error {
	data, err := yaml.Marshal(p.original)
	if err != nil {
		return fmt.Errorf("rules: marshal %q: %w", p.original.Name, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a previously saved document and re-merges defaults.
func Load(path string) (*Provided, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var submitted Rules
	if err := yaml.Unmarshal(data, &submitted); err != nil {
		return nil, fmt.Errorf("rules: decode %s: %w", path, err)
	}
	return New(submitted)
}

// ValidateName checks the restricted database name character set: 1..64
// characters from [a-zA-Z0-9_-], not starting with '-' or '_'.
func ValidateName(name string) error {
	if name == "" {
		return apierror.InvalidArgumentf("database", name, "name is required")
	}
	if len(name) > MaxNameLen {
		return apierror.InvalidArgumentf("database", name, "name longer than %d characters", MaxNameLen)
	}
	if name[0] == '-' || name[0] == '_' {
		return apierror.InvalidArgumentf("database", name, "name may not start with %q", string(name[0]))
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return apierror.InvalidArgumentf("database", name, "invalid character %q at position %d", string(c), i)
		}
	}
	return nil
}

func validateFields(r Rules) error {
	if r.MutableBufferBytes < 0 {
		return apierror.InvalidArgumentf("database", r.Name, "mutable_buffer_bytes must not be negative")
	}
	if r.ChunkCloseRows < 0 {
		return apierror.InvalidArgumentf("database", r.Name, "chunk_close_rows must not be negative")
	}
	if r.ChunkCloseAge < 0 || r.PersistAge < 0 || r.LateArrivalWindow < 0 {
		return apierror.InvalidArgumentf("database", r.Name, "durations must not be negative")
	}
	if r.WorkerConcurrency < 0 {
		return apierror.InvalidArgumentf("database", r.Name, "worker_concurrency must not be negative")
	}
	if r.PartitionTemplate != "" {
		// A template that discards all time information would fold every row
		// into a single partition key.
		ref := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		other := time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)
		if ref.Format(r.PartitionTemplate) == other.Format(r.PartitionTemplate) {
			return apierror.InvalidArgumentf("database", r.Name, "partition_template %q does not vary with time", r.PartitionTemplate)
		}
	}
	return nil
}

func withDefaults(r Rules) Rules {
	if r.PartitionTemplate == "" {
		r.PartitionTemplate = DefaultPartitionTemplate
	}
	if r.MutableBufferBytes == 0 {
		r.MutableBufferBytes = DefaultMutableBufferBytes
	}
	if r.ChunkCloseRows == 0 {
		r.ChunkCloseRows = DefaultChunkCloseRows
	}
	if r.ChunkCloseAge == 0 {
		r.ChunkCloseAge = DefaultChunkCloseAge
	}
	if r.PersistAge == 0 {
		r.PersistAge = DefaultPersistAge
	}
	if r.LateArrivalWindow == 0 {
		r.LateArrivalWindow = DefaultLateArrivalWindow
	}
	if r.WorkerConcurrency == 0 {
		r.WorkerConcurrency = DefaultWorkerConcurrency
	}
	return r
}
