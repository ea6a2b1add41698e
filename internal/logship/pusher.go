// Package logship ships the diagnostic log file to the backend in increments.
// It is a loosely coupled maintenance job, not part of the dispatch path: a
// failed push leaves the persisted offset untouched and the next tick retries
// the same range.
package logship

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"shipflosync/internal/client"
	"shipflosync/internal/logging"
	"shipflosync/internal/metrics"
	"shipflosync/internal/store"
)

// LogClient is the slice of the dispatch client the pusher uses.
type LogClient interface {
	PushLogChunk(ctx context.Context, apiKey, file string, offset int64, content string) client.Result
}

// APIKeySource yields the decrypted API key.
type APIKeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// maxChunkBytes bounds a single push so a long outage does not produce one
// giant request when the pusher catches up.
const maxChunkBytes = 1 << 20

type Pusher struct {
	Store    store.Store
	Client   LogClient
	Secrets  APIKeySource
	Log      logging.Logger
	FilePath string
	Interval time.Duration

	stop chan struct{}
}

func NewPusher(st store.Store, c LogClient, keys APIKeySource, log logging.Logger, filePath string, interval time.Duration) *Pusher {
	return &Pusher{
		Store:    st,
		Client:   c,
		Secrets:  keys,
		Log:      log,
		FilePath: filePath,
		Interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start runs the ticker loop in its own goroutine until Stop is called.
func (p *Pusher) Start() {
	go func() {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if err := p.PushOnce(ctx); err != nil {
					p.Log.Warnf("[ShipFlo] log push: %v", err)
				}
				cancel()
			}
		}
	}()
}

func (p *Pusher) Stop() { close(p.stop) }

// PushOnce ships at most one increment: bytes from the persisted offset to
// the current end of file. No new bytes means no request at all. The offset
// only advances after the backend accepts the chunk.
func (p *Pusher) PushOnce(ctx context.Context) error {
	offset, err := p.Store.GetLogOffset(ctx, p.FilePath)
	if err != nil {
		return fmt.Errorf("read offset: %w", err)
	}

	f, err := os.Open(p.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	size := info.Size()
	if size < offset {
		// File was truncated or rotated; start over from the top.
		p.Log.Infof("[ShipFlo] log file shrank (%d < %d), resetting offset", size, offset)
		offset = 0
	}
	if size == offset {
		return nil
	}

	n := size - offset
	if n > maxChunkBytes {
		n = maxChunkBytes
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return fmt.Errorf("read log chunk: %w", err)
	}

	apiKey, err := p.Secrets.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("api key: %w", err)
	}

	res := p.Client.PushLogChunk(ctx, apiKey, info.Name(), offset, string(buf))
	if !res.Success {
		return fmt.Errorf("backend refused chunk at offset %d [HTTP %d]: %s", offset, res.Status, res.Error)
	}

	next := offset + n
	if err := p.Store.SetLogOffset(ctx, p.FilePath, next); err != nil {
		return fmt.Errorf("persist offset: %w", err)
	}
	metrics.LogBytesPushed.Add(float64(n))
	p.Log.Debugf("[ShipFlo] pushed %d log bytes, offset now %d", n, next)
	return nil
}
