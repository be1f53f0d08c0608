package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/tickvault/internal/sink"
	"github.com/sawpanic/tickvault/internal/streamlog"
)

var errInjected = errors.New("injected")

// memLog is an in-memory streamlog.Log that records calls in a shared journal.
type memLog struct {
	mu      sync.Mutex
	seq     int
	entries map[string][]streamlog.Entry
	journal *[]string

	lenErr    error
	rangeErr  error
	deleteErr error
}

func newMemLog(journal *[]string) *memLog {
	return &memLog{entries: make(map[string][]streamlog.Entry), journal: journal}
}

func (m *memLog) note(s string) {
	if m.journal != nil {
		*m.journal = append(*m.journal, s)
	}
}

func (m *memLog) fill(stream string, n int) {
	for i := 0; i < n; i++ {
		_, _ = m.Append(context.Background(), stream, map[string]string{"v": fmt.Sprint(i)})
	}
}

func (m *memLog) Append(_ context.Context, stream string, fields map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	key := fmt.Sprintf("%08d-0", m.seq)
	m.entries[stream] = append(m.entries[stream], streamlog.Entry{Key: key, Fields: fields})
	return key, nil
}

func (m *memLog) Range(_ context.Context, stream, _, _ string, count int64) ([]streamlog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.note("range")
	if m.rangeErr != nil {
		return nil, m.rangeErr
	}
	all := m.entries[stream]
	if int64(len(all)) > count {
		all = all[:count]
	}
	return append([]streamlog.Entry(nil), all...), nil
}

func (m *memLog) RevRange(_ context.Context, stream string, count int64) ([]streamlog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.entries[stream]
	var out []streamlog.Entry
	for i := len(all) - 1; i >= 0 && int64(len(out)) < count; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memLog) Len(_ context.Context, stream string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lenErr != nil {
		return 0, m.lenErr
	}
	return int64(len(m.entries[stream])), nil
}

func (m *memLog) Delete(_ context.Context, stream string, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.note("delete")
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	var kept []streamlog.Entry
	var n int64
	for _, e := range m.entries[stream] {
		if drop[e.Key] {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries[stream] = kept
	return n, nil
}

func (m *memLog) Close() error { return nil }

func (m *memLog) keys(stream string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return streamlog.Keys(m.entries[stream])
}

type write struct {
	destination string
	partition   string
	rows        []sink.Row
}

// memSink records writes; err makes every Write fail.
type memSink struct {
	mu      sync.Mutex
	writes  []write
	err     error
	delay   time.Duration
	journal *[]string

	active    int
	maxActive int
}

func (s *memSink) Write(_ context.Context, destination string, rows []sink.Row, partition string) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	if s.journal != nil {
		*s.journal = append(*s.journal, "write")
	}
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, write{destination: destination, partition: partition, rows: rows})
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) written() []sink.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sink.Row
	for _, w := range s.writes {
		out = append(out, w.rows...)
	}
	return out
}

func keyMapper(e streamlog.Entry) sink.Row {
	return sink.Row{"log_key": e.Key, "v": e.Fields["v"]}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
