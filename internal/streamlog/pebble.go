package streamlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleConfig configures the embedded log.
type PebbleConfig struct {
	Dir string `yaml:"dir"`
	// Sync forces a WAL fsync on every append and delete.
	Sync bool `yaml:"sync"`
}

// Keyspace (byte-wise sortable). The stream name is prefixed with its length so no
// stream's keys fall inside another stream's range:
//   - s/{len_be4}{stream}/m            lastSeq_be8 | count_be8
//   - s/{len_be4}{stream}/e/{seq_be8}  JSON encoded fields
var (
	streamPrefix = []byte("s/")
	metaSuffix   = []byte("/m")
	entrySeg     = []byte("/e/")
)

const keyWidth = 20

// PebbleLog is a single-node Log stored in a Pebble database. Keys are zero padded
// decimal sequence numbers so they sort the same way as strings and as integers.
type PebbleLog struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	mu sync.Mutex
}

// OpenPebbleLog opens or creates the database at cfg.Dir.
func OpenPebbleLog(cfg PebbleConfig) (*PebbleLog, error) {
	if cfg.Dir == "" {
		return nil, errors.New("pebble: dir is required")
	}
	db, err := pebble.Open(cfg.Dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", cfg.Dir, err)
	}
	wo := pebble.NoSync
	if cfg.Sync {
		wo = pebble.Sync
	}
	return &PebbleLog{db: db, writeOpts: wo}, nil
}

func streamSeg(stream string, extra int) []byte {
	k := make([]byte, 0, len(streamPrefix)+4+len(stream)+extra)
	k = append(k, streamPrefix...)
	k = binary.BigEndian.AppendUint32(k, uint32(len(stream)))
	return append(k, stream...)
}

func entryKey(stream string, seq uint64) []byte {
	k := streamSeg(stream, len(entrySeg)+8)
	k = append(k, entrySeg...)
	return binary.BigEndian.AppendUint64(k, seq)
}

func entryKeyLen(stream string) int {
	return len(streamPrefix) + 4 + len(stream) + len(entrySeg) + 8
}

func metaKey(stream string) []byte {
	return append(streamSeg(stream, len(metaSuffix)), metaSuffix...)
}

// FormatKey renders a sequence number as a log key.
func FormatKey(seq uint64) string {
	return fmt.Sprintf("%0*d", keyWidth, seq)
}

// ParseKey is the inverse of FormatKey.
func ParseKey(key string) (uint64, error) {
	seq, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid log key %q: %w", key, err)
	}
	return seq, nil
}

type streamMeta struct {
	lastSeq uint64
	count   uint64
}

func (p *PebbleLog) loadMeta(stream string) (streamMeta, error) {
	val, closer, err := p.db.Get(metaKey(stream))
	if errors.Is(err, pebble.ErrNotFound) {
		return streamMeta{}, nil
	}
	if err != nil {
		return streamMeta{}, err
	}
	defer closer.Close()
	if len(val) < 16 {
		return streamMeta{}, fmt.Errorf("corrupt metadata for stream %s", stream)
	}
	return streamMeta{
		lastSeq: binary.BigEndian.Uint64(val[:8]),
		count:   binary.BigEndian.Uint64(val[8:16]),
	}, nil
}

func encodeMeta(m streamMeta) []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], m.lastSeq)
	binary.BigEndian.PutUint64(b[8:], m.count)
	return b[:]
}

func (p *PebbleLog) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	val, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	meta, err := p.loadMeta(stream)
	if err != nil {
		return "", err
	}
	meta.lastSeq++
	meta.count++

	b := p.db.NewBatch()
	defer b.Close()
	if err := b.Set(entryKey(stream, meta.lastSeq), val, nil); err != nil {
		return "", err
	}
	if err := b.Set(metaKey(stream), encodeMeta(meta), nil); err != nil {
		return "", err
	}
	if err := b.Commit(p.writeOpts); err != nil {
		return "", fmt.Errorf("append %s: %w", stream, err)
	}
	return FormatKey(meta.lastSeq), nil
}

func (p *PebbleLog) bounds(stream, from, to string) (lo, hi []byte, err error) {
	var fromSeq, toSeq uint64 = 0, ^uint64(0)
	if from != MinKey {
		if fromSeq, err = ParseKey(from); err != nil {
			return nil, nil, err
		}
	}
	if to != MaxKey {
		if toSeq, err = ParseKey(to); err != nil {
			return nil, nil, err
		}
	}
	return entryKey(stream, fromSeq), append(entryKey(stream, toSeq), 0x00), nil
}

func (p *PebbleLog) scan(stream, from, to string, count int64, reverse bool) ([]Entry, error) {
	lo, hi, err := p.bounds(stream, from, to)
	if err != nil {
		return nil, err
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []Entry
	valid := iter.First()
	if reverse {
		valid = iter.Last()
	}
	for ; valid && (count <= 0 || int64(len(entries)) < count); valid = step(iter, reverse) {
		k := iter.Key()
		if len(k) != entryKeyLen(stream) {
			return nil, fmt.Errorf("unexpected key %q in stream %s", k, stream)
		}
		seq := binary.BigEndian.Uint64(k[len(k)-8:])
		fields := make(map[string]string)
		if err := json.Unmarshal(iter.Value(), &fields); err != nil {
			return nil, fmt.Errorf("decode record %d of %s: %w", seq, stream, err)
		}
		entries = append(entries, Entry{Key: FormatKey(seq), Fields: fields})
	}
	return entries, iter.Error()
}

func step(iter *pebble.Iterator, reverse bool) bool {
	if reverse {
		return iter.Prev()
	}
	return iter.Next()
}

func (p *PebbleLog) Range(ctx context.Context, stream, from, to string, count int64) ([]Entry, error) {
	return p.scan(stream, from, to, count, false)
}

func (p *PebbleLog) RevRange(ctx context.Context, stream string, count int64) ([]Entry, error) {
	return p.scan(stream, MinKey, MaxKey, count, true)
}

func (p *PebbleLog) Len(ctx context.Context, stream string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	meta, err := p.loadMeta(stream)
	if err != nil {
		return 0, err
	}
	return int64(meta.count), nil
}

func (p *PebbleLog) Delete(ctx context.Context, stream string, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	meta, err := p.loadMeta(stream)
	if err != nil {
		return 0, err
	}

	b := p.db.NewBatch()
	defer b.Close()
	var deleted int64
	seen := make(map[uint64]struct{}, len(keys))
	for _, key := range keys {
		seq, err := ParseKey(key)
		if err != nil {
			return 0, err
		}
		if _, dup := seen[seq]; dup {
			continue
		}
		seen[seq] = struct{}{}
		k := entryKey(stream, seq)
		_, closer, err := p.db.Get(k)
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		closer.Close()
		if err := b.Delete(k, nil); err != nil {
			return 0, err
		}
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}
	meta.count -= uint64(deleted)
	if err := b.Set(metaKey(stream), encodeMeta(meta), nil); err != nil {
		return 0, err
	}
	if err := b.Commit(p.writeOpts); err != nil {
		return 0, fmt.Errorf("delete from %s: %w", stream, err)
	}
	return deleted, nil
}

func (p *PebbleLog) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
