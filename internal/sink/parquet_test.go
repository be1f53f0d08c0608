package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readParquet(t *testing.T, path string) (*parquet.Schema, []parquet.Row) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := parquet.NewReader(f)
	defer r.Close()
	rows := make([]parquet.Row, r.NumRows())
	n, err := r.ReadRows(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		require.NoError(t, err)
	}
	return r.Schema(), rows[:n]
}

func columnIndex(t *testing.T, schema *parquet.Schema, name string) int {
	t.Helper()
	for i, f := range schema.Fields() {
		if f.Name() == name {
			return i
		}
	}
	t.Fatalf("column %s not found", name)
	return -1
}

func TestParquetSink_WritePartitions(t *testing.T) {
	root := t.TempDir()
	s, err := NewParquetSink(ParquetConfig{Root: root})
	require.NoError(t, err)

	rows := []Row{
		{"log_key": "1-0", "price": 100.5, "side": "buy", "ingest_date": "2026-10-18"},
		{"log_key": "2-0", "price": 101.0, "side": nil, "ingest_date": "2026-10-19"},
		{"log_key": "3-0", "price": nil, "side": "sell", "ingest_date": "2026-10-18"},
	}
	require.NoError(t, s.Write(context.Background(), "market_data/trades", rows, "ingest_date"))

	files, err := filepath.Glob(filepath.Join(root, "market_data/trades/ingest_date=2026-10-18/*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	schema, got := readParquet(t, files[0])
	require.Len(t, got, 2)
	keyIdx := columnIndex(t, schema, "log_key")
	priceIdx := columnIndex(t, schema, "price")
	assert.Equal(t, "1-0", string(got[0][keyIdx].ByteArray()))
	assert.Equal(t, "3-0", string(got[1][keyIdx].ByteArray()))
	assert.Equal(t, 100.5, got[0][priceIdx].Double())
	assert.True(t, got[1][priceIdx].IsNull())

	files, err = filepath.Glob(filepath.Join(root, "market_data/trades/ingest_date=2026-10-19/*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	staged, err := filepath.Glob(filepath.Join(root, "market_data/trades/*/.*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestParquetSink_PreservesOrder(t *testing.T) {
	root := t.TempDir()
	s, err := NewParquetSink(ParquetConfig{Root: root})
	require.NoError(t, err)

	var rows []Row
	for _, k := range []string{"0005", "0001", "0009", "0002"} {
		rows = append(rows, Row{"log_key": k, "ingest_date": "2026-10-19"})
	}
	require.NoError(t, s.Write(context.Background(), "ob", rows, "ingest_date"))

	files, err := filepath.Glob(filepath.Join(root, "ob/ingest_date=2026-10-19/*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	schema, got := readParquet(t, files[0])
	idx := columnIndex(t, schema, "log_key")
	var keys []string
	for _, r := range got {
		keys = append(keys, string(r[idx].ByteArray()))
	}
	assert.Equal(t, []string{"0005", "0001", "0009", "0002"}, keys)
}

func TestParquetSink_MissingPartitionValue(t *testing.T) {
	root := t.TempDir()
	s, err := NewParquetSink(ParquetConfig{Root: root})
	require.NoError(t, err)

	rows := []Row{
		{"log_key": "1-0", "ingest_date": "2026-10-19"},
		{"log_key": "2-0"},
	}
	err = s.Write(context.Background(), "trades", rows, "ingest_date")
	require.Error(t, err)

	files, _ := filepath.Glob(filepath.Join(root, "trades/*/*"))
	assert.Empty(t, files)
}

func TestParquetSink_RequiresRoot(t *testing.T) {
	_, err := NewParquetSink(ParquetConfig{})
	assert.Error(t, err)
}

func TestColumns(t *testing.T) {
	cols := Columns([]Row{{"b": 1, "a": 2}, {"c": nil}})
	assert.Equal(t, []string{"a", "b", "c"}, cols)
}
