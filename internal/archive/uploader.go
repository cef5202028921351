package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Putter is the slice of the store the uploader needs. *S3Store
// satisfies it; tests substitute an in-memory fake.
type Putter interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Uploader archives flushed recordings in the background without
// blocking session close. It satisfies the session registry's Archiver
// interface.
type Uploader struct {
	store    Putter
	ch       chan string
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewUploader creates an async uploader with the given queue size.
func NewUploader(store Putter, queueSize int, log zerolog.Logger) *Uploader {
	return &Uploader{
		store: store,
		ch:    make(chan string, queueSize),
		log:   log.With().Str("component", "uploader").Logger(),
	}
}

// Enqueue queues a recording file for upload. Non-blocking; drops with
// a warning when the queue is full or the uploader has stopped. The
// file stays on local disk either way.
func (u *Uploader) Enqueue(path string) {
	if u.stopped.Load() {
		return
	}
	select {
	case u.ch <- path:
	default:
		u.log.Warn().Str("path", path).Msg("archive queue full, skipping (recording safe on disk)")
	}
}

// Start launches worker goroutines.
func (u *Uploader) Start(workers int) {
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", workers).Int("buffer", cap(u.ch)).Msg("archive uploader started")
}

// Stop drains the queue and waits for in-flight uploads.
func (u *Uploader) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
	u.wg.Wait()
}

func (u *Uploader) worker() {
	defer u.wg.Done()
	for path := range u.ch {
		data, err := os.ReadFile(path)
		if err != nil {
			u.log.Error().Err(err).Str("path", path).Msg("archive read failed")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.store.Put(ctx, filepath.Base(path), data); err != nil {
			u.log.Error().Err(err).Str("path", path).Msg("archive upload failed (recording safe on disk)")
		}
		cancel()
	}
}
