package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"beacon/internal/proto"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	conn := newFakeConn()
	s := newSession(testDeviceID(t), "fake:1", conn, registry, time.Second)

	registry.Register(s)

	got, ok := registry.Lookup(s.DeviceID())
	if !ok {
		t.Fatal("Expected session to be registered")
	}
	if got != s {
		t.Error("Expected lookup to return the registered session")
	}
	if registry.Len() != 1 {
		t.Errorf("Expected 1 session, got %d", registry.Len())
	}
}

func TestRegistryLookupAbsent(t *testing.T) {
	registry := NewRegistry()

	if _, ok := registry.Lookup(testDeviceID(t)); ok {
		t.Error("Expected lookup of unknown identity to return absent")
	}
}

func TestRegistryReplaceEvictsPrevious(t *testing.T) {
	registry := NewRegistry()
	id := testDeviceID(t)

	conn1 := newFakeConn()
	s1 := newSession(id, "fake:1", conn1, registry, 5*time.Second)
	registry.Register(s1)
	go s1.readLoop()

	// A caller is blocked on the first session when the device reconnects.
	errCh := make(chan error, 1)
	go func() {
		_, err := s1.Execute(context.Background(), proto.ExecuteFrame{
			Command: proto.CommandOnOff,
			Params:  proto.OnOffParams{On: true},
		})
		errCh <- err
	}()
	waitFor(t, "command write", func() bool { return conn1.writeCount() > 0 })

	conn2 := newFakeConn()
	s2 := newSession(id, "fake:2", conn2, registry, 5*time.Second)
	registry.Register(s2)
	t.Cleanup(s2.teardown)

	if err := <-errCh; !errors.Is(err, ErrDisconnected) {
		t.Errorf("Expected evicted session's caller to observe ErrDisconnected, got %v", err)
	}

	got, ok := registry.Lookup(id)
	if !ok || got != s2 {
		t.Error("Expected lookup to return the replacement session")
	}
	if registry.Len() != 1 {
		t.Errorf("Expected exactly one session per identity, got %d", registry.Len())
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	registry := NewRegistry()
	id := testDeviceID(t)

	s := newSession(id, "fake:1", newFakeConn(), registry, time.Second)
	registry.Register(s)

	registry.Remove(id, s)
	if _, ok := registry.Lookup(id); ok {
		t.Error("Expected session removed")
	}

	// Removing again, or removing an identity that was never present, is a
	// no-op.
	registry.Remove(id, s)
	registry.Remove(testDeviceID(t), s)
}

func TestRegistryRemoveIgnoresReplacedSession(t *testing.T) {
	registry := NewRegistry()
	id := testDeviceID(t)

	s1 := newSession(id, "fake:1", newFakeConn(), registry, time.Second)
	registry.Register(s1)
	s2 := newSession(id, "fake:2", newFakeConn(), registry, time.Second)
	registry.Register(s2)

	// The evicted session's deferred cleanup must not knock out its
	// replacement.
	registry.Remove(id, s1)

	got, ok := registry.Lookup(id)
	if !ok || got != s2 {
		t.Error("Expected replacement session to survive stale remove")
	}
}

func TestRegistryClose(t *testing.T) {
	registry := NewRegistry()

	for i := 0; i < 3; i++ {
		s := newSession(testDeviceID(t), "fake", newFakeConn(), registry, time.Second)
		registry.Register(s)
	}

	registry.Close()
	if registry.Len() != 0 {
		t.Errorf("Expected empty registry after Close, got %d sessions", registry.Len())
	}
}

func TestRegistrySnapshot(t *testing.T) {
	registry := NewRegistry()
	s := newSession(testDeviceID(t), "10.0.0.7:4123", newFakeConn(), registry, time.Second)
	registry.Register(s)

	snapshot := registry.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(snapshot))
	}
	if snapshot[0].DeviceID != s.DeviceID() {
		t.Error("Expected snapshot to carry the device identity")
	}
	if snapshot[0].RemoteAddr != "10.0.0.7:4123" {
		t.Errorf("Expected remote addr preserved, got %s", snapshot[0].RemoteAddr)
	}
}
