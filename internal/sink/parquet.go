package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog/log"
)

// ParquetConfig configures the Parquet dataset sink.
type ParquetConfig struct {
	Root string `yaml:"root"`
}

// ParquetSink writes hive-style partitioned Parquet datasets:
//
//	{root}/{destination}/{column}={value}/part-{unix_nanos}-{uuid}.parquet
//
// Each Write produces one new file per partition. Files are staged under a temporary
// name and only renamed into place once every partition of the call has been written.
type ParquetSink struct {
	root string
	now  func() time.Time
}

func NewParquetSink(cfg ParquetConfig) (*ParquetSink, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("parquet sink: root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("parquet sink: %w", err)
	}
	return &ParquetSink{root: cfg.Root, now: time.Now}, nil
}

type stagedFile struct {
	tmp, final string
}

func (p *ParquetSink) Write(ctx context.Context, destination string, rows []Row, partitionColumn string) error {
	if len(rows) == 0 {
		return nil
	}
	order, groups, err := Partition(rows, partitionColumn)
	if err != nil {
		return err
	}

	var staged []stagedFile
	cleanup := func() {
		for _, s := range staged {
			_ = os.Remove(s.tmp)
		}
	}

	stamp := p.now().UnixNano()
	for _, value := range order {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		dir := filepath.Join(p.root, destination, partitionColumn+"="+value)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			cleanup()
			return fmt.Errorf("create partition dir: %w", err)
		}
		name := fmt.Sprintf("part-%d-%s.parquet", stamp, uuid.New().String())
		final := filepath.Join(dir, name)
		tmp := filepath.Join(dir, "."+name+".tmp")
		staged = append(staged, stagedFile{tmp: tmp, final: final})
		if err := writeParquetFile(tmp, groups[value]); err != nil {
			cleanup()
			return fmt.Errorf("write partition %s=%s: %w", partitionColumn, value, err)
		}
	}

	for i, s := range staged {
		if err := os.Rename(s.tmp, s.final); err != nil {
			for _, done := range staged[:i] {
				_ = os.Remove(done.final)
			}
			cleanup()
			return fmt.Errorf("publish %s: %w", s.final, err)
		}
	}

	log.Debug().Str("destination", destination).Int("rows", len(rows)).Int("files", len(staged)).Msg("Parquet batch written")
	return nil
}

func (p *ParquetSink) Close() error { return nil }

type columnKind int

const (
	kindString columnKind = iota
	kindDouble
	kindInt64
	kindBool
)

func inferKind(rows []Row, col string) columnKind {
	kind, seen := kindString, false
	for _, r := range rows {
		v := r[col]
		if v == nil {
			continue
		}
		var k columnKind
		switch v.(type) {
		case float64, float32:
			k = kindDouble
		case int, int32, int64:
			k = kindInt64
		case bool:
			k = kindBool
		default:
			return kindString
		}
		if seen && k != kind {
			return kindString
		}
		kind, seen = k, true
	}
	return kind
}

func leafFor(kind columnKind) parquet.Node {
	switch kind {
	case kindDouble:
		return parquet.Leaf(parquet.DoubleType)
	case kindInt64:
		return parquet.Int(64)
	case kindBool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func valueFor(kind columnKind, v any) parquet.Value {
	switch kind {
	case kindDouble:
		switch n := v.(type) {
		case float32:
			return parquet.DoubleValue(float64(n))
		default:
			return parquet.DoubleValue(n.(float64))
		}
	case kindInt64:
		switch n := v.(type) {
		case int:
			return parquet.Int64Value(int64(n))
		case int32:
			return parquet.Int64Value(int64(n))
		default:
			return parquet.Int64Value(n.(int64))
		}
	case kindBool:
		return parquet.BooleanValue(v.(bool))
	default:
		if s, ok := v.(string); ok {
			return parquet.ByteArrayValue([]byte(s))
		}
		return parquet.ByteArrayValue([]byte(fmt.Sprint(v)))
	}
}

// writeParquetFile writes rows with an all-optional flat schema inferred from the values.
func writeParquetFile(path string, rows []Row) error {
	cols := Columns(rows)
	group := make(parquet.Group, len(cols))
	kinds := make(map[string]columnKind, len(cols))
	for _, c := range cols {
		kinds[c] = inferKind(rows, c)
		group[c] = parquet.Optional(leafFor(kinds[c]))
	}
	schema := parquet.NewSchema("row", group)

	// field order of a Group is its column order
	fields := schema.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name()
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewWriter(f, schema)

	buf := make([]parquet.Row, 0, len(rows))
	for _, r := range rows {
		row := make(parquet.Row, len(names))
		for i, name := range names {
			v := r[name]
			if v == nil {
				row[i] = parquet.NullValue().Level(0, 0, i)
				continue
			}
			row[i] = valueFor(kinds[name], v).Level(0, 1, i)
		}
		buf = append(buf, row)
	}
	if _, err := w.WriteRows(buf); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
