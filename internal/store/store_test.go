package store_test

import (
	"errors"
	"path/filepath"
	"testing"

	"beacon/internal/proto"
	"beacon/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestCreateDevice(t *testing.T) {
	s := setupTestStore(t)

	device, secret, err := s.CreateDevice("living-room-lamp")
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}

	if device.Name != "living-room-lamp" {
		t.Errorf("Expected name 'living-room-lamp', got %s", device.Name)
	}
	if device.ID.IsZero() {
		t.Error("Expected a non-zero device ID")
	}
	if secret == "" {
		t.Error("Expected a plaintext secret to be returned")
	}

	fetched, err := s.GetDevice(device.ID)
	if err != nil {
		t.Fatalf("Failed to fetch created device: %v", err)
	}
	if fetched.ID != device.ID {
		t.Errorf("Expected ID %s, got %s", device.ID, fetched.ID)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	s := setupTestStore(t)

	id, err := proto.NewDeviceID()
	if err != nil {
		t.Fatalf("Failed to generate device ID: %v", err)
	}

	if _, err := s.GetDevice(id); !errors.Is(err, store.ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestVerifySecret(t *testing.T) {
	s := setupTestStore(t)

	device, secret, err := s.CreateDevice("hallway-blinds")
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}

	t.Run("CorrectSecret", func(t *testing.T) {
		ok, err := s.VerifySecret(device.ID, secret)
		if err != nil {
			t.Fatalf("VerifySecret failed: %v", err)
		}
		if !ok {
			t.Error("Expected correct secret to verify")
		}
	})

	t.Run("CorrectSecretCached", func(t *testing.T) {
		// Second verification goes through the LRU fast path.
		ok, err := s.VerifySecret(device.ID, secret)
		if err != nil {
			t.Fatalf("VerifySecret failed: %v", err)
		}
		if !ok {
			t.Error("Expected cached secret to verify")
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		ok, err := s.VerifySecret(device.ID, "not-the-secret")
		if err != nil {
			t.Fatalf("VerifySecret failed: %v", err)
		}
		if ok {
			t.Error("Expected wrong secret to be rejected")
		}
	})

	t.Run("UnknownDevice", func(t *testing.T) {
		id, err := proto.NewDeviceID()
		if err != nil {
			t.Fatalf("Failed to generate device ID: %v", err)
		}
		if _, err := s.VerifySecret(id, secret); !errors.Is(err, store.ErrDeviceNotFound) {
			t.Errorf("Expected ErrDeviceNotFound, got %v", err)
		}
	})
}

func TestListDevices(t *testing.T) {
	s := setupTestStore(t)

	names := []string{"lamp", "blinds", "heater"}
	for _, name := range names {
		if _, _, err := s.CreateDevice(name); err != nil {
			t.Fatalf("Failed to create device %s: %v", name, err)
		}
	}

	devices, err := s.ListDevices()
	if err != nil {
		t.Fatalf("Failed to list devices: %v", err)
	}
	if len(devices) != len(names) {
		t.Fatalf("Expected %d devices, got %d", len(names), len(devices))
	}
}

func TestDeleteDevice(t *testing.T) {
	s := setupTestStore(t)

	device, _, err := s.CreateDevice("garage-door")
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}

	if err := s.DeleteDevice(device.ID); err != nil {
		t.Fatalf("Failed to delete device: %v", err)
	}

	if _, err := s.GetDevice(device.ID); !errors.Is(err, store.ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound after delete, got %v", err)
	}

	if err := s.DeleteDevice(device.ID); !errors.Is(err, store.ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound on double delete, got %v", err)
	}
}
