package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"
)

type logEntry struct {
	core   zapcore.Core
	entry  zapcore.Entry
	fields []zapcore.Field
}

// asyncQueue is the buffer and worker shared by an AsyncCore and every core
// derived from it with With.
type asyncQueue struct {
	entries       chan logEntry
	flush         chan chan struct{}
	quit          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	dropped       uint64
	drops         zapcore.Core
}

// AsyncCore wraps a zapcore.Core and writes entries in batches from a
// background goroutine. When the buffer is full entries are dropped and
// counted; the count is reported once a minute.
type AsyncCore struct {
	core zapcore.Core
	q    *asyncQueue
}

// NewAsyncCore initializes a new AsyncCore.
// bufferSize: size of the buffered channel
// batchSize: number of log entries per batch
// flushInterval: maximum time to wait before flushing a batch
func NewAsyncCore(core zapcore.Core, bufferSize, batchSize int, flushInterval time.Duration) *AsyncCore {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 || batchSize > bufferSize {
		batchSize = bufferSize / 10
	}
	if batchSize == 0 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}

	q := &asyncQueue{
		entries:       make(chan logEntry, bufferSize),
		flush:         make(chan chan struct{}),
		quit:          make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		drops:         core,
	}
	q.wg.Add(1)
	go q.run()

	return &AsyncCore{core: core, q: q}
}

func (q *asyncQueue) run() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()
	report := time.NewTicker(time.Minute)
	defer report.Stop()

	batch := make([]logEntry, 0, q.batchSize)
	write := func() {
		for _, e := range batch {
			if err := e.core.Write(e.entry, e.fields); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
			}
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case e := <-q.entries:
				batch = append(batch, e)
				if len(batch) >= q.batchSize {
					write()
				}
			default:
				write()
				return
			}
		}
	}

	for {
		select {
		case e := <-q.entries:
			batch = append(batch, e)
			if len(batch) >= q.batchSize {
				write()
			}
		case <-ticker.C:
			write()
		case <-report.C:
			q.reportDropped()
		case done := <-q.flush:
			drain()
			close(done)
		case <-q.quit:
			drain()
			q.reportDropped()
			return
		}
	}
}

func (q *asyncQueue) reportDropped() {
	dropped := atomic.SwapUint64(&q.dropped, 0)
	if dropped == 0 {
		return
	}
	q.drops.Write(zapcore.Entry{
		Level:      zapcore.WarnLevel,
		Message:    fmt.Sprintf("Dropped %d log entries due to full buffer", dropped),
		Time:       time.Now(),
		LoggerName: "async",
	}, nil)
}

func (ac *AsyncCore) Enabled(level zapcore.Level) bool {
	return ac.core.Enabled(level)
}

func (ac *AsyncCore) With(fields []zapcore.Field) zapcore.Core {
	return &AsyncCore{core: ac.core.With(fields), q: ac.q}
}

func (ac *AsyncCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ac.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, ac)
	}
	return checkedEntry
}

// Write enqueues the entry without blocking.
func (ac *AsyncCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	select {
	case <-ac.q.quit:
		return ac.core.Write(entry, fields)
	default:
	}

	select {
	case ac.q.entries <- logEntry{core: ac.core, entry: entry, fields: fields}:
	default:
		atomic.AddUint64(&ac.q.dropped, 1)
	}
	return nil
}

// Dropped returns the number of entries dropped since the last report.
func (ac *AsyncCore) Dropped() uint64 {
	return atomic.LoadUint64(&ac.q.dropped)
}

// Sync writes every buffered entry and syncs the underlying core.
func (ac *AsyncCore) Sync() error {
	done := make(chan struct{})
	select {
	case ac.q.flush <- done:
		<-done
	case <-ac.q.quit:
	}
	return ac.core.Sync()
}

// Close flushes and stops the background writer. It is safe to call more
// than once.
func (ac *AsyncCore) Close() error {
	ac.q.closeOnce.Do(func() { close(ac.q.quit) })
	ac.q.wg.Wait()
	return ac.core.Sync()
}
