package config

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap/zapcore"

	"surge/internal/dialect"
	"surge/internal/logging"
	"surge/internal/paramstyle"
	"surge/internal/source"
	"surge/internal/storage"
	"surge/internal/surge"
	"surge/internal/table"
	"surge/internal/transform"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the
// job, e.g. "table.columns[2].transforms".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateJob performs static validation of j without touching the source
// file or the database.
func ValidateJob(j Job) []Issue {
	var issues []Issue
	if strings.TrimSpace(j.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "name",
			Message:  "name is empty; logs and metrics will use the default job label",
		})
	}
	issues = append(issues, validateSource(j.Source)...)
	issues = append(issues, validateTable(j.Table)...)
	issues = append(issues, validateStorage(j.Storage)...)
	issues = append(issues, validateLoad(j.Load, j.Table)...)
	issues = append(issues, validateLog(j.Log)...)
	issues = append(issues, validateMetrics(j.Metrics)...)
	return issues
}

func errorf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)}
}

func warnf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)}
}

func validateSource(s source.Config) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Path) == "" {
		issues = append(issues, errorf("source.path", "source.path must not be empty"))
	}
	if _, err := source.Kind(s); err != nil && (s.Kind != "" || s.Path != "") {
		issues = append(issues, errorf("source.kind", "%v", err))
	}
	if len([]rune(s.Comma)) > 1 {
		issues = append(issues, errorf("source.comma", "comma must be a single character, got %q", s.Comma))
	}
	if s.HasHeader != nil && !*s.HasHeader && len(s.Columns) == 0 {
		issues = append(issues, warnf("source.columns", "no header and no columns; fields will be named col1..colN"))
	}
	return issues
}

func validateTable(t Table) []Issue {
	var issues []Issue
	if err := table.ValidateIdentifier(t.Name); err != nil {
		issues = append(issues, errorf("table.name", "%v", err))
	}
	if len(t.Columns) == 0 {
		issues = append(issues, errorf("table.columns", "at least one column is required"))
		return issues
	}

	reg := transform.Default()
	seen := make(map[string]struct{}, len(t.Columns))
	for i, c := range t.Columns {
		path := fmt.Sprintf("table.columns[%d]", i)
		if err := table.ValidateIdentifier(c.Name); err != nil {
			issues = append(issues, errorf(path+".name", "%v", err))
		}
		if _, dup := seen[c.Name]; dup {
			issues = append(issues, errorf(path+".name", "duplicate column %q", c.Name))
		}
		seen[c.Name] = struct{}{}

		if c.Source != "" && len(c.Sources) > 0 {
			issues = append(issues, errorf(path, "source and sources are mutually exclusive"))
		}
		if _, err := reg.ResolveChain(c.Transforms); err != nil {
			issues = append(issues, errorf(path+".transforms", "%v", err))
		}
		for d := range c.SQL {
			if !d.Valid() {
				issues = append(issues, errorf(path+".sql", "unknown dialect %q; known: %v", d, dialect.All()))
			}
		}
		if c.PrimaryKey && c.Nullable != nil && *c.Nullable {
			issues = append(issues, warnf(path+".nullable", "key column %s is marked nullable; it is still required", c.Name))
		}
	}
	return issues
}

func validateStorage(s storage.Config) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, errorf("storage.kind", "storage.kind must not be empty"))
	}
	if kinds := storage.ListKinds(); len(kinds) > 0 && !slices.Contains(kinds, s.Kind) {
		issues = append(issues, warnf("storage.kind", "unknown storage kind %q; registered: %v", s.Kind, kinds))
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, errorf("storage.dsn", "storage.dsn must not be empty"))
	}
	if s.ParamStyle != "" {
		if _, err := paramstyle.ParseStyle(s.ParamStyle); err != nil {
			issues = append(issues, errorf("storage.paramstyle", "%v", err))
		}
	}
	if s.Kind == "sql" {
		if s.Driver == "" {
			issues = append(issues, errorf("storage.driver", "the sql backend requires a driver name"))
		}
		if _, err := dialect.Parse(s.Dialect); err != nil {
			issues = append(issues, errorf("storage.dialect", "%v", err))
		}
	}
	return issues
}

func validateLoad(l LoadConfig, t Table) []Issue {
	var issues []Issue
	op, err := l.Operation()
	switch {
	case err != nil:
		issues = append(issues, errorf("load.op", "%v", err))
	case op == table.Select:
		issues = append(issues, errorf("load.op", "select is not a load operation"))
	case op.NeedsKeys() && !hasKey(t.Columns):
		issues = append(issues, errorf("load.op", "%s requires at least one primary_key column", op))
	}

	switch l.LoadMode() {
	case ModeExecuteMany:
	case ModeBulk:
		if err == nil && op != table.Insert {
			issues = append(issues, errorf("load.mode", "bulk mode supports insert only, got %s", op))
		}
		if l.Transaction {
			issues = append(issues, warnf("load.transaction", "bulk copy runs as one statement; transaction only adds a wrapper"))
		}
	default:
		issues = append(issues, errorf("load.mode", "unknown mode %q; use %s or %s", l.Mode, ModeExecuteMany, ModeBulk))
	}

	if _, err := surge.ParseMergeStrategy(l.MergeStrategy); err != nil {
		issues = append(issues, errorf("load.merge_strategy", "%v", err))
	}
	if l.BatchSize < 0 {
		issues = append(issues, errorf("load.batch_size", "batch_size must not be negative"))
	} else if l.BatchSize == 0 {
		issues = append(issues, warnf("load.batch_size", "batch_size not set; using %d", surge.DefaultBatchSize))
	}
	if l.QueueSize < 0 {
		issues = append(issues, errorf("load.queue_size", "queue_size must not be negative"))
	}
	if l.SampleSize < 0 {
		issues = append(issues, errorf("load.sample_size", "sample_size must not be negative"))
	}
	return issues
}

func validateLog(c logging.Config) []Issue {
	var issues []Issue
	if c.Level != "" {
		if _, err := zapcore.ParseLevel(c.Level); err != nil {
			issues = append(issues, errorf("log.level", "%v", err))
		}
	}
	switch c.Encoding {
	case "", "json", "console":
	default:
		issues = append(issues, errorf("log.encoding", "unknown encoding %q; use json or console", c.Encoding))
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch m.Backend {
	case "", MetricsNone:
	case MetricsPushgateway:
		if m.Options.String("url", "") == "" {
			issues = append(issues, warnf("metrics.options.url", "pushgateway url not set; PUSHGATEWAY_URL or the default is used"))
		}
	case MetricsDatadog:
		if m.Options.String("addr", "") == "" {
			issues = append(issues, warnf("metrics.options.addr", "datadog addr not set; DD_DOGSTATSD_URL is used and metrics are disabled when it is empty"))
		}
	default:
		issues = append(issues, warnf("metrics.backend", "unknown metrics backend %q; metrics disabled", m.Backend))
	}
	return issues
}

func hasKey(cols []table.ColumnSpec) bool {
	for _, c := range cols {
		if c.PrimaryKey {
			return true
		}
	}
	return false
}
