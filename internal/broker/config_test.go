package broker

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Server.Address != ":8080" {
		t.Errorf("Expected address :8080, got %s", config.Server.Address)
	}
	if config.Database.Path != "beacon.db" {
		t.Errorf("Expected database path beacon.db, got %s", config.Database.Path)
	}
	if config.ExecuteTimeout() != 10*time.Second {
		t.Errorf("Expected 10s execute timeout, got %v", config.ExecuteTimeout())
	}
	if config.Security.RequireAuth {
		t.Error("Expected require_auth disabled by default")
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.yml")

	config := NewDefaultConfig()
	config.Server.Address = ":9090"
	config.Session.ExecuteTimeout = "3s"
	config.Security.RequireAuth = true
	config.Security.JWT.SecretKey = "secret"
	config.Security.JWT.Issuer = "auth-service"

	if err := SaveConfig(config, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Server.Address != ":9090" {
		t.Errorf("Expected address :9090, got %s", loaded.Server.Address)
	}
	if loaded.ExecuteTimeout() != 3*time.Second {
		t.Errorf("Expected 3s execute timeout, got %v", loaded.ExecuteTimeout())
	}
	if !loaded.Security.RequireAuth || loaded.Security.JWT.Issuer != "auth-service" {
		t.Errorf("Security settings not preserved: %+v", loaded.Security)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yml")
	partial := NewDefaultConfig()
	partial.Server = ServerConfig{Address: ":7070"}
	partial.Session = SessionConfig{}
	if err := SaveConfig(partial, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Server.Address != ":7070" {
		t.Errorf("Expected address :7070, got %s", loaded.Server.Address)
	}
	if loaded.Session.ExecuteTimeout != "10s" {
		t.Errorf("Expected default execute timeout, got %s", loaded.Session.ExecuteTimeout)
	}
	if loaded.Server.ReadTimeout != "15s" {
		t.Errorf("Expected default read timeout, got %s", loaded.Server.ReadTimeout)
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("BadDuration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yml")
		config := NewDefaultConfig()
		config.Session.ExecuteTimeout = "soon"
		if err := SaveConfig(config, path); err != nil {
			t.Fatalf("Failed to save config: %v", err)
		}

		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected validation error for bad duration")
		}
	})

	t.Run("RequireAuthWithoutSecret", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yml")
		config := NewDefaultConfig()
		config.Security.RequireAuth = true
		if err := SaveConfig(config, path); err != nil {
			t.Fatalf("Failed to save config: %v", err)
		}

		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected validation error for missing JWT secret")
		}
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}
