// Package config defines the job file model: where records come from, the
// destination table and its columns, the storage backend, and how the load
// runs. Job files are YAML (.yaml, .yml) or JSON (.json); both decode into
// the same structs.
//
// Example (trimmed):
//
//	name: people
//	source:  { path: people.csv.gz }
//	table:
//	  name: public.people
//	  columns:
//	    - { name: id, primary_key: true, transforms: [int] }
//	    - { name: full_name, source: Full Name, required: true, transforms: [trim] }
//	storage: { kind: postgres, dsn: "${PG_DSN}" }
//	load:    { op: merge, mode: executemany, batch_size: 5000 }
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"surge/internal/logging"
	"surge/internal/source"
	"surge/internal/storage"
	"surge/internal/surge"
	"surge/internal/table"
)

// Load modes.
const (
	ModeExecuteMany = "executemany"
	ModeBulk        = "bulk"
)

// Metrics backends.
const (
	MetricsNone        = "none"
	MetricsPushgateway = "pushgateway"
	MetricsDatadog     = "datadog"
)

// Job is the top-level object decoded from a job file.
type Job struct {
	// Name labels logs and metrics.
	Name string `yaml:"name" json:"name"`

	Source  source.Config  `yaml:"source" json:"source"`
	Table   Table          `yaml:"table" json:"table"`
	Storage storage.Config `yaml:"storage" json:"storage"`
	Load    LoadConfig     `yaml:"load" json:"load"`
	Log     logging.Config `yaml:"log" json:"log"`
	Metrics Metrics        `yaml:"metrics" json:"metrics"`
}

// Table declares the destination table.
type Table struct {
	Name    string             `yaml:"name" json:"name"`
	Columns []table.ColumnSpec `yaml:"columns" json:"columns"`

	// NullStrings replaces the default set of strings read as NULL.
	NullStrings []string `yaml:"null_strings,omitempty" json:"null_strings,omitempty"`
}

// LoadConfig controls the operation, strategy and batching.
type LoadConfig struct {
	// Op is insert, update, delete or merge. Defaults to insert.
	Op string `yaml:"op" json:"op"`
	// Mode is executemany (default) or bulk. Bulk supports insert only.
	Mode string `yaml:"mode" json:"mode"`

	BatchSize     int    `yaml:"batch_size" json:"batch_size"`
	RaiseOnError  bool   `yaml:"raise_on_error" json:"raise_on_error"`
	Transaction   bool   `yaml:"transaction" json:"transaction"`
	MergeStrategy string `yaml:"merge_strategy" json:"merge_strategy"`
	QueueSize     int    `yaml:"queue_size" json:"queue_size"`
	SampleSize    int    `yaml:"sample_size" json:"sample_size"`
}

// Operation parses Op, defaulting to insert.
func (l LoadConfig) Operation() (table.Operation, error) {
	if strings.TrimSpace(l.Op) == "" {
		return table.Insert, nil
	}
	return table.ParseOperation(strings.ToLower(strings.TrimSpace(l.Op)))
}

// LoadMode returns Mode lowercased, defaulting to executemany.
func (l LoadConfig) LoadMode() string {
	m := strings.ToLower(strings.TrimSpace(l.Mode))
	if m == "" {
		return ModeExecuteMany
	}
	return m
}

// Options converts the load settings into loader options for job.
func (l LoadConfig) Options(job string, log *zap.Logger) (surge.Options, error) {
	ms, err := surge.ParseMergeStrategy(l.MergeStrategy)
	if err != nil {
		return surge.Options{}, err
	}
	return surge.Options{
		Job:           job,
		BatchSize:     l.BatchSize,
		RaiseOnError:  l.RaiseOnError,
		Transaction:   l.Transaction,
		MergeStrategy: ms,
		QueueSize:     l.QueueSize,
		SampleSize:    l.SampleSize,
		Logger:        log,
	}, nil
}

// Metrics selects a metrics backend. Options are backend specific:
//
//	pushgateway: url
//	datadog:     addr, namespace, tags
type Metrics struct {
	Backend string  `yaml:"backend" json:"backend"`
	Options Options `yaml:"options" json:"options"`
}

// Options is a free-form map with typed getters for backend-specific
// settings. Getters return def when a key is absent or of another type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if s, ok := o[key].(string); ok {
		return s
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if b, ok := o[key].(bool); ok {
		return b
	}
	return def
}

// Int returns the integer value for key or def. JSON numbers arrive as
// float64 and YAML numbers as int, so both are accepted.
func (o Options) Int(key string, def int) int {
	switch n := o[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// StringSlice returns the string elements of a list value, or nil.
func (o Options) StringSlice(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// UnmarshalJSON decodes a missing or null object to an empty map.
func (o *Options) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

// UnmarshalYAML decodes a null node to an empty map.
func (o *Options) UnmarshalYAML(n *yaml.Node) error {
	var tmp map[string]any
	if err := n.Decode(&tmp); err != nil {
		return err
	}
	if tmp == nil {
		tmp = map[string]any{}
	}
	*o = Options(tmp)
	return nil
}

// Read loads a job file, choosing the decoder by extension. ${VAR}
// references are expanded from the environment before decoding.
func Read(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("config: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	job, err := Parse(data, format)
	if err != nil {
		return Job{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return job, nil
}

// envRef matches the braced ${VAR} form only, so a bare "$" in a password
// or SQL override is kept.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(m[2 : len(m)-1])))
	})
}

// Parse decodes data as "yaml"/"yml" or "json". Unknown keys are errors.
func Parse(data []byte, format string) (Job, error) {
	data = expandEnv(data)

	var job Job
	switch format {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&job); err != nil {
			return Job{}, fmt.Errorf("decode yaml: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&job); err != nil {
			return Job{}, fmt.Errorf("decode json: %w", err)
		}
	default:
		return Job{}, fmt.Errorf("unsupported config format %q", format)
	}
	if job.Metrics.Options == nil {
		job.Metrics.Options = Options{}
	}
	return job, nil
}
