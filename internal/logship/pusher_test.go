package logship

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shipflosync/internal/client"
	"shipflosync/internal/logging"
	"shipflosync/internal/store"
)

type pushCall struct {
	file    string
	offset  int64
	content string
}

type fakeLogClient struct {
	mu    sync.Mutex
	calls []pushCall
	res   client.Result
}

func (c *fakeLogClient) PushLogChunk(ctx context.Context, apiKey, file string, offset int64, content string) client.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, pushCall{file: file, offset: offset, content: content})
	return c.res
}

func (c *fakeLogClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type staticKey struct{}

func (staticKey) APIKey(ctx context.Context) (string, error) { return "key123", nil }

func newPusher(t *testing.T, c *fakeLogClient, path string) (*Pusher, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return NewPusher(st, c, staticKey{}, logging.NewNop(), path, time.Minute), st
}

func TestPushesNewBytesAndAdvancesOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipflo.log")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	fc := &fakeLogClient{res: client.Result{Success: true, Status: 200}}
	p, st := newPusher(t, fc, path)
	ctx := context.Background()

	if err := p.PushOnce(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if fc.callCount() != 1 || fc.calls[0].offset != 0 || fc.calls[0].content != "hello world" {
		t.Fatalf("calls: %+v", fc.calls)
	}
	off, _ := st.GetLogOffset(ctx, path)
	if off != int64(len("hello world")) {
		t.Fatalf("offset = %d", off)
	}
}

func TestNoNewBytesMeansNoRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipflo.log")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	fc := &fakeLogClient{res: client.Result{Success: true, Status: 200}}
	p, _ := newPusher(t, fc, path)
	ctx := context.Background()

	_ = p.PushOnce(ctx)
	if err := p.PushOnce(ctx); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if fc.callCount() != 1 {
		t.Fatalf("no-op tick produced a request: %d calls", fc.callCount())
	}
}

func TestSecondPushShipsOnlyTheIncrement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipflo.log")
	if err := os.WriteFile(path, []byte("first."), 0o644); err != nil {
		t.Fatal(err)
	}
	fc := &fakeLogClient{res: client.Result{Success: true, Status: 200}}
	p, _ := newPusher(t, fc, path)
	ctx := context.Background()

	_ = p.PushOnce(ctx)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("second.")
	_ = f.Close()

	if err := p.PushOnce(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if fc.callCount() != 2 {
		t.Fatalf("calls = %d", fc.callCount())
	}
	got := fc.calls[1]
	if got.offset != int64(len("first.")) || got.content != "second." {
		t.Fatalf("increment: %+v", got)
	}
}

func TestFailedPushKeepsOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipflo.log")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	fc := &fakeLogClient{res: client.Result{Success: false, Status: 503, Error: "busy"}}
	p, st := newPusher(t, fc, path)
	ctx := context.Background()

	if err := p.PushOnce(ctx); err == nil {
		t.Fatal("expected error on refused chunk")
	}
	off, _ := st.GetLogOffset(ctx, path)
	if off != 0 {
		t.Fatalf("offset advanced past unacked bytes: %d", off)
	}

	// Recovery retries the same range.
	fc.res = client.Result{Success: true, Status: 200}
	if err := p.PushOnce(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fc.calls[1].offset != 0 || fc.calls[1].content != "payload" {
		t.Fatalf("retry range: %+v", fc.calls[1])
	}
}

func TestMissingFileIsQuietNoOp(t *testing.T) {
	fc := &fakeLogClient{res: client.Result{Success: true, Status: 200}}
	p, _ := newPusher(t, fc, filepath.Join(t.TempDir(), "absent.log"))
	if err := p.PushOnce(context.Background()); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if fc.callCount() != 0 {
		t.Fatal("missing file produced a request")
	}
}

func TestTruncatedFileRestartsFromTop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipflo.log")
	if err := os.WriteFile(path, []byte("long initial content"), 0o644); err != nil {
		t.Fatal(err)
	}
	fc := &fakeLogClient{res: client.Result{Success: true, Status: 200}}
	p, _ := newPusher(t, fc, path)
	ctx := context.Background()

	_ = p.PushOnce(ctx)
	if err := os.WriteFile(path, []byte("rotated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.PushOnce(ctx); err != nil {
		t.Fatalf("push after rotation: %v", err)
	}
	got := fc.calls[1]
	if got.offset != 0 || got.content != "rotated" {
		t.Fatalf("post-rotation chunk: %+v", got)
	}
}
