// Package store is the device provisioning store: the mapping from device
// identity to secret that the broker authenticates connections against.
package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"beacon/internal/proto"
)

// ErrDeviceNotFound is returned when no device is provisioned under an identity.
var ErrDeviceNotFound = errors.New("device not found")

// secretBytes is the length of a generated device secret before hex encoding.
const secretBytes = 16

// verifyCacheSize bounds the credential-verification cache. One entry per
// recently authenticated device.
const verifyCacheSize = 256

// Device is a provisioned device record. The plaintext secret is never stored;
// only its Argon2 hash is.
type Device struct {
	ID            proto.DeviceID `json:"id"`
	Name          string         `json:"name"`
	CreatedAt     time.Time      `json:"created_at"`
	LastConnected time.Time      `json:"last_connected,omitempty"`
}

// Store handles SQLite-backed device provisioning.
type Store struct {
	db      *sql.DB
	secrets *SecretService

	// verified caches fingerprints of recently accepted credentials so a
	// reconnecting device does not pay the Argon2 cost on every attempt.
	verified *lru.Cache[string, [32]byte]
}

// Open opens (and initializes if needed) the provisioning store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	cache, err := lru.New[string, [32]byte](verifyCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create verification cache: %w", err)
	}

	s := &Store{
		db:       db,
		secrets:  NewSecretService(),
		verified: cache,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			secret_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_connected DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_name ON devices(name)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// CreateDevice provisions a new device under a fresh random identity and
// returns the record together with the plaintext secret. The secret is shown
// exactly once; only its hash survives.
func (s *Store) CreateDevice(name string) (*Device, string, error) {
	id, err := proto.NewDeviceID()
	if err != nil {
		return nil, "", err
	}

	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := hex.EncodeToString(raw)

	hash, err := s.secrets.HashSecret(secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash secret: %w", err)
	}

	query := `INSERT INTO devices (id, name, secret_hash) VALUES (?, ?, ?)`
	if _, err := s.db.Exec(query, id.String(), name, hash); err != nil {
		return nil, "", fmt.Errorf("failed to insert device: %w", err)
	}

	device, err := s.GetDevice(id)
	if err != nil {
		return nil, "", err
	}
	return device, secret, nil
}

// GetDevice fetches a provisioned device by identity.
func (s *Store) GetDevice(id proto.DeviceID) (*Device, error) {
	query := `SELECT id, name, created_at, COALESCE(last_connected, '') FROM devices WHERE id = ?`
	row := s.db.QueryRow(query, id.String())

	var (
		idText        string
		device        Device
		lastConnected string
	)
	if err := row.Scan(&idText, &device.Name, &device.CreatedAt, &lastConnected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	parsed, err := proto.ParseDeviceID(idText)
	if err != nil {
		return nil, fmt.Errorf("corrupt device id %q in store: %w", idText, err)
	}
	device.ID = parsed

	if lastConnected != "" {
		if ts, err := time.Parse("2006-01-02 15:04:05", lastConnected); err == nil {
			device.LastConnected = ts
		}
	}

	return &device, nil
}

// ListDevices returns all provisioned devices.
func (s *Store) ListDevices() ([]Device, error) {
	query := `SELECT id, name, created_at, COALESCE(last_connected, '') FROM devices ORDER BY created_at`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var (
			idText        string
			device        Device
			lastConnected string
		)
		if err := rows.Scan(&idText, &device.Name, &device.CreatedAt, &lastConnected); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		parsed, err := proto.ParseDeviceID(idText)
		if err != nil {
			return nil, fmt.Errorf("corrupt device id %q in store: %w", idText, err)
		}
		device.ID = parsed
		if lastConnected != "" {
			if ts, err := time.Parse("2006-01-02 15:04:05", lastConnected); err == nil {
				device.LastConnected = ts
			}
		}
		devices = append(devices, device)
	}

	return devices, rows.Err()
}

// DeleteDevice removes a provisioned device. Deleting an unknown identity is
// an error so operators notice typos.
func (s *Store) DeleteDevice(id proto.DeviceID) error {
	result, err := s.db.Exec(`DELETE FROM devices WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	s.verified.Remove(id.String())
	return nil
}

// VerifySecret checks a presented credential pair against the store. Unknown
// identities return ErrDeviceNotFound; a wrong secret returns (false, nil).
func (s *Store) VerifySecret(id proto.DeviceID, secret string) (bool, error) {
	if fp, ok := s.verified.Get(id.String()); ok {
		if matchFingerprint(fp, secret) {
			return true, nil
		}
		// Cached fingerprint no longer matches; fall through to the hash.
	}

	var hash string
	row := s.db.QueryRow(`SELECT secret_hash FROM devices WHERE id = ?`, id.String())
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrDeviceNotFound
		}
		return false, fmt.Errorf("failed to query secret: %w", err)
	}

	ok, err := s.secrets.VerifySecret(secret, hash)
	if err != nil {
		return false, fmt.Errorf("failed to verify secret: %w", err)
	}
	if ok {
		s.verified.Add(id.String(), fingerprint(secret))
	}
	return ok, nil
}

// TouchDevice records a successful connection time for an identity.
func (s *Store) TouchDevice(id proto.DeviceID) error {
	_, err := s.db.Exec(`UPDATE devices SET last_connected = CURRENT_TIMESTAMP WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to update last_connected: %w", err)
	}
	return nil
}
