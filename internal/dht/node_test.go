package dht

import (
	"context"
	"sync"
	"testing"
	"time"
)

func freshNode(t *testing.T) *Node {
	t.Helper()
	n := newNode(DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

func TestNodeLifecycle(t *testing.T) {
	n := newNode(DefaultConfig())
	if n.State() != StateDisconnected {
		t.Fatalf("expected disconnected initially, got %s", n.State())
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n.State() != StateConnected {
		t.Fatalf("expected connected after start, got %s", n.State())
	}
	n.Stop()
	if n.State() != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %s", n.State())
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	n := freshNode(t)
	var key Key
	key[0] = 1

	if _, err := n.Put(context.Background(), key, []byte("hello"), Persist7Day); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := n.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q want %q", got, "hello")
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	n := freshNode(t)
	var key Key
	if _, err := n.Get(context.Background(), key); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAllReturnsUnionOfConcurrentPuts(t *testing.T) {
	n := freshNode(t)
	var key Key
	key[0] = 2

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = n.Put(context.Background(), key, []byte{byte(i)}, Ephemeral)
		}(i)
	}
	wg.Wait()

	all, err := n.GetAll(context.Background(), key)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 values, got %d", len(all))
	}
}

func TestListenFiresOnPut(t *testing.T) {
	n := freshNode(t)
	var key Key
	key[0] = 3

	fired := make(chan []byte, 1)
	handle, err := n.Listen(key, func(_ Key, value []byte) {
		fired <- value
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer n.CancelListen(handle)

	if _, err := n.Put(context.Background(), key, []byte("ping"), Ephemeral); err != nil {
		t.Fatalf("Put: %v", err)
	}

	select {
	case v := <-fired:
		if string(v) != "ping" {
			t.Fatalf("got %q want %q", v, "ping")
		}
	case <-time.After(time.Second):
		t.Fatal("listener did not fire within timeout")
	}
}

func TestCancelListenStopsDelivery(t *testing.T) {
	n := freshNode(t)
	var key Key
	key[0] = 4

	fired := make(chan []byte, 1)
	handle, err := n.Listen(key, func(_ Key, value []byte) { fired <- value })
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	n.CancelListen(handle)

	if _, err := n.Put(context.Background(), key, []byte("ping"), Ephemeral); err != nil {
		t.Fatalf("Put: %v", err)
	}
	select {
	case v := <-fired:
		t.Fatalf("listener fired after cancel: %q", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReinitializeRearmsListeners(t *testing.T) {
	n := freshNode(t)
	var key Key
	key[0] = 5

	fired := make(chan []byte, 1)
	if _, err := n.Listen(key, func(_ Key, value []byte) { fired <- value }); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	if err := n.Reinitialize(context.Background()); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}

	if _, err := n.Put(context.Background(), key, []byte("after-reconnect"), Ephemeral); err != nil {
		t.Fatalf("Put: %v", err)
	}

	select {
	case v := <-fired:
		if string(v) != "after-reconnect" {
			t.Fatalf("got %q want %q", v, "after-reconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("rearmed listener did not fire within timeout")
	}
}

func TestDeleteRemovesValue(t *testing.T) {
	n := freshNode(t)
	var key Key
	key[0] = 6

	if _, err := n.Put(context.Background(), key, []byte("gone-soon"), Ephemeral); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := n.Delete(context.Background(), key, Tombstone{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := n.Get(context.Background(), key); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
