package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depth.report/internal/sonar/record"
	"github.com/banshee-data/depth.report/internal/timeutil"
)

// DefaultPersistInterval is the write cadence when none is configured.
const DefaultPersistInterval = time.Second

// SoundingWriter is the storage a Persister writes to. *DB satisfies it.
type SoundingWriter interface {
	RecordSounding(record.OutputRecord) error
}

// PersisterStats counts what happened to records offered to a Persister.
type PersisterStats struct {
	Written     uint64 `json:"written"`
	Failed      uint64 `json:"failed"`       // write attempts that returned an error
	Superseded  uint64 `json:"superseded"`   // pending records replaced by a newer one
	WithheldFix uint64 `json:"withheld_fix"` // records without a location fix, when one is required
}

// PersisterOption configures a Persister.
type PersisterOption func(*Persister)

// WithInterval sets the write cadence.
func WithInterval(d time.Duration) PersisterOption {
	return func(p *Persister) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRequireFix withholds records that carry no location fix.
func WithRequireFix(require bool) PersisterOption {
	return func(p *Persister) { p.requireFix = require }
}

// WithPersisterClock overrides the clock driving the write ticker.
func WithPersisterClock(c timeutil.Clock) PersisterOption {
	return func(p *Persister) {
		if c != nil {
			p.clock = c
		}
	}
}

// Persister is a pipeline sink that throttles database writes. It keeps only
// the newest pending record and writes at most one per interval on its own
// goroutine. A failed write stays pending and is retried on the next tick
// unless a newer record has arrived.
type Persister struct {
	store      SoundingWriter
	clock      timeutil.Clock
	interval   time.Duration
	requireFix bool

	mu      sync.Mutex
	pending *record.OutputRecord

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	written     atomic.Uint64
	failed      atomic.Uint64
	superseded  atomic.Uint64
	withheldFix atomic.Uint64
}

// NewPersister returns a Persister writing to store. Call Start to begin
// writing.
func NewPersister(store SoundingWriter, opts ...PersisterOption) *Persister {
	p := &Persister{
		store:    store,
		clock:    timeutil.RealClock{},
		interval: DefaultPersistInterval,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnSample implements pipeline.Sink.
func (p *Persister) OnSample(r record.OutputRecord) {
	if p.requireFix && r.Fix == nil {
		p.withheldFix.Add(1)
		return
	}
	p.mu.Lock()
	if p.pending != nil {
		p.superseded.Add(1)
	}
	p.pending = &r
	p.mu.Unlock()
}

// Start launches the writer goroutine. It exits when ctx ends or Close is
// called.
func (p *Persister) Start(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C():
				p.flush()
			}
		}
	}()
}

// flush writes the pending record, if any.
func (p *Persister) flush() {
	p.mu.Lock()
	r := p.pending
	p.pending = nil
	p.mu.Unlock()
	if r == nil {
		return
	}

	if err := p.store.RecordSounding(*r); err != nil {
		n := p.failed.Add(1)
		logf("persist failed (%d so far), retrying next tick: %v", n, err)
		p.mu.Lock()
		if p.pending == nil {
			p.pending = r
		}
		p.mu.Unlock()
		return
	}
	p.written.Add(1)
}

// Close stops the writer and makes one last attempt at the pending record.
func (p *Persister) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		p.flush()
	})
}

// Stats returns the persister counters.
func (p *Persister) Stats() PersisterStats {
	return PersisterStats{
		Written:     p.written.Load(),
		Failed:      p.failed.Load(),
		Superseded:  p.superseded.Load(),
		WithheldFix: p.withheldFix.Load(),
	}
}
