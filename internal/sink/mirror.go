package sink

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Mirror writes to a primary sink and copies successful batches to a secondary one. Only
// the primary decides durability: a failed copy is logged and counted, never returned.
type Mirror struct {
	primary   Sink
	secondary Sink
	dropped   atomic.Int64
}

func NewMirror(primary, secondary Sink) *Mirror {
	return &Mirror{primary: primary, secondary: secondary}
}

func (m *Mirror) Write(ctx context.Context, destination string, rows []Row, partitionColumn string) error {
	if err := m.primary.Write(ctx, destination, rows, partitionColumn); err != nil {
		return err
	}
	if err := m.secondary.Write(ctx, destination, rows, partitionColumn); err != nil {
		m.dropped.Add(int64(len(rows)))
		log.Warn().Err(err).Str("destination", destination).Int("rows", len(rows)).Msg("Mirror write failed")
	}
	return nil
}

// Dropped is the number of rows the secondary failed to receive.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

func (m *Mirror) Close() error {
	return errors.Join(m.secondary.Close(), m.primary.Close())
}
