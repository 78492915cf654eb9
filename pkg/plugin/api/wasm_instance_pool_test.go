package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin/config"
)

// fakeFactory builds plugins over fresh fake modules and remembers every
// module it produced, in creation order.
type fakeFactory struct {
	created int
	mods    []*fakeModule
	initErr string
}

func (ff *fakeFactory) factory() InstanceFactory {
	return func() (*WASMPlugin, error) {
		f := newFakeModule()
		f.initErr = ff.initErr
		p, err := newWASMPlugin(context.Background(), f)
		if err != nil {
			return nil, err
		}
		ff.created++
		ff.mods = append(ff.mods, f)
		return p, nil
	}
}

func TestPoolAcquireReleaseReuse(t *testing.T) {
	ff := &fakeFactory{}
	cfg := config.New()
	cfg.Set("tier", "test")
	pool := NewWASMInstancePool(context.Background(), "fakefs", ff.factory(), cfg, PoolConfig{MaxInstances: 2})
	defer pool.Close()

	inst, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	id := inst.id
	pool.Release(inst)

	again, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Second acquire failed: %v", err)
	}
	if again.id != id {
		t.Errorf("Expected pooled instance reused, got a different one")
	}
	pool.Release(again)

	if ff.created != 1 {
		t.Errorf("Expected 1 instance created, got %d", ff.created)
	}
	if ff.mods[0].initCalls != 1 {
		t.Errorf("Expected instance initialized once, got %d", ff.mods[0].initCalls)
	}
	if ff.mods[0].lastInit != `{"tier":"test"}` {
		t.Errorf("Expected pool config passed to initialize, got %q", ff.mods[0].lastInit)
	}
}

func TestPoolMaxInstancesBlocks(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewWASMInstancePool(context.Background(), "fakefs", ff.factory(), nil, PoolConfig{MaxInstances: 1})
	defer pool.Close()

	held, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	got := make(chan *WASMInstance, 1)
	go func() {
		inst, err := pool.Acquire()
		if err != nil {
			t.Errorf("Waiting acquire failed: %v", err)
			return
		}
		got <- inst
	}()

	select {
	case <-got:
		t.Fatal("Expected second acquire to block while the pool is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(held)

	select {
	case inst := <-got:
		if inst.id != held.id {
			t.Errorf("Expected the released instance handed to the waiter")
		}
		pool.Release(inst)
	case <-time.After(2 * time.Second):
		t.Fatal("Waiter never received the released instance")
	}

	if ff.created != 1 {
		t.Errorf("Expected 1 instance created, got %d", ff.created)
	}
}

func TestPoolRecycleByRequests(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewWASMInstancePool(context.Background(), "fakefs", ff.factory(), nil,
		PoolConfig{MaxInstances: 1, InstanceMaxRequests: 2})
	defer pool.Close()

	first, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	firstID := first.id
	pool.Release(first)

	second, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if second.id != firstID {
		t.Errorf("Expected reuse under the request budget")
	}
	pool.Release(second)

	third, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if third.id == firstID {
		t.Errorf("Expected a fresh instance after the request budget")
	}
	pool.Release(third)

	if ff.created != 2 {
		t.Errorf("Expected 2 instances created, got %d", ff.created)
	}
	if !ff.mods[0].shutdownDone {
		t.Error("Expected the recycled instance to be shut down")
	}
}

func TestPoolRecycleByLifetime(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewWASMInstancePool(context.Background(), "fakefs", ff.factory(), nil,
		PoolConfig{MaxInstances: 1, InstanceMaxLifetime: time.Millisecond})
	defer pool.Close()

	first, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.Release(first)

	time.Sleep(5 * time.Millisecond)

	second, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if second.id == first.id {
		t.Errorf("Expected a fresh instance after the lifetime limit")
	}
	pool.Release(second)

	if ff.created != 2 {
		t.Errorf("Expected 2 instances created, got %d", ff.created)
	}
}

func TestPoolExecuteFS(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewWASMInstancePool(context.Background(), "fakefs", ff.factory(), nil, PoolConfig{MaxInstances: 2})
	defer pool.Close()

	err := pool.ExecuteFS(func(fs filesystem.FileSystem) error {
		data, err := fs.Read("/hello", 0, 0)
		if err != nil {
			return err
		}
		if string(data) != fakeWASMContent {
			t.Errorf("Expected %q, got %q", fakeWASMContent, string(data))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteFS failed: %v", err)
	}

	err = pool.Execute(func(inst *WASMInstance) error {
		if inst.FileSystem() == nil {
			t.Error("Expected a filesystem from the pooled instance")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
}

func TestPoolStats(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewWASMInstancePool(context.Background(), "fakefs", ff.factory(), nil,
		PoolConfig{MaxInstances: 1, InstanceMaxRequests: 1, EnableStatistics: true})

	inst, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.Release(inst)

	// The budget is one request, so this acquire recycles and recreates.
	inst, err = pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.Release(inst)
	pool.Close()

	stats := pool.GetStats()
	if stats.TotalCreated != 2 {
		t.Errorf("Expected 2 created, got %d", stats.TotalCreated)
	}
	if stats.TotalDestroyed != 2 {
		t.Errorf("Expected 2 destroyed, got %d", stats.TotalDestroyed)
	}
	if stats.CurrentActive != 0 {
		t.Errorf("Expected 0 active after close, got %d", stats.CurrentActive)
	}
	if stats.TotalRequests < 2 {
		t.Errorf("Expected at least 2 requests, got %d", stats.TotalRequests)
	}
}

func TestPoolClose(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewWASMInstancePool(context.Background(), "fakefs", ff.factory(), nil, PoolConfig{MaxInstances: 2})

	idle, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	held, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.Release(idle)

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !ff.mods[0].shutdownDone || !ff.mods[0].moduleClosed {
		t.Error("Expected idle instance destroyed on close")
	}

	if _, err := pool.Acquire(); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("Expected acquire to fail after close, got %v", err)
	}

	// Instances checked out at close time die on release.
	pool.Release(held)
	if !ff.mods[1].shutdownDone {
		t.Error("Expected checked-out instance destroyed on release after close")
	}

	if err := pool.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestPoolCloseUnblocksWaiter(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewWASMInstancePool(context.Background(), "fakefs", ff.factory(), nil, PoolConfig{MaxInstances: 1})

	held, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire()
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	pool.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Expected waiting acquire to fail after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock the waiter")
	}
	pool.Release(held)
}

func TestPoolInitializeFailure(t *testing.T) {
	ff := &fakeFactory{initErr: "backend unreachable"}
	pool := NewWASMInstancePool(context.Background(), "fakefs", ff.factory(), nil, PoolConfig{MaxInstances: 1})
	defer pool.Close()

	_, err := pool.Acquire()
	if err == nil || !strings.Contains(err.Error(), "backend unreachable") {
		t.Fatalf("Expected initialize failure, got %v", err)
	}
	if !ff.mods[0].shutdownDone {
		t.Error("Expected half-built instance cleaned up")
	}

	// The slot must be returned; a later acquire can create again.
	ff.initErr = ""
	inst, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire after failure failed: %v", err)
	}
	pool.Release(inst)

	if ff.created != 2 {
		t.Errorf("Expected 2 factory calls, got %d", ff.created)
	}
}
