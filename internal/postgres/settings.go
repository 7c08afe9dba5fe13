package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/kasse/internal/crypto"
	"github.com/dukerupert/kasse/internal/gateway"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsStore keeps per-tenant gateway settings in payment_settings, sealed
// with enc. It implements gateway.SettingsSource.
type SettingsStore struct {
	db  dbtx
	enc crypto.Encryptor
}

var _ gateway.SettingsSource = (*SettingsStore)(nil)

// NewSettingsStore creates a settings store on pool.
func NewSettingsStore(pool *pgxpool.Pool, enc crypto.Encryptor) *SettingsStore {
	return &SettingsStore{db: pool, enc: enc}
}

func settingsKey(tenantKey, provider string) (string, string, []byte) {
	tenantKey = strings.ToLower(tenantKey)
	provider = strings.ToLower(provider)
	return tenantKey, provider, []byte(tenantKey + "/" + provider)
}

// Lookup implements gateway.SettingsSource.
func (s *SettingsStore) Lookup(ctx context.Context, tenantKey, provider string) (*gateway.Settings, error) {
	tenantKey, provider, aad := settingsKey(tenantKey, provider)

	var sealed []byte
	err := s.db.QueryRow(ctx,
		`SELECT ciphertext FROM payment_settings WHERE tenant_key = $1 AND provider = $2`,
		tenantKey, provider,
	).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment settings: %w", err)
	}

	plain, err := s.enc.Open(sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("open payment settings for %s/%s: %w", tenantKey, provider, err)
	}
	var out gateway.Settings
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("decode payment settings: %w", err)
	}
	return &out, nil
}

// Save seals settings and replaces any existing row for the key.
func (s *SettingsStore) Save(ctx context.Context, tenantKey, provider string, settings *gateway.Settings) error {
	tenantKey, provider, aad := settingsKey(tenantKey, provider)

	plain, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode payment settings: %w", err)
	}
	sealed, err := s.enc.Seal(plain, aad)
	if err != nil {
		return fmt.Errorf("seal payment settings: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO payment_settings (tenant_key, provider, ciphertext, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_key, provider)
		DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = NOW()`,
		tenantKey, provider, sealed,
	)
	if err != nil {
		return fmt.Errorf("save payment settings: %w", err)
	}
	return nil
}

// Delete removes the row for the key. Deleting a missing row is not an error.
func (s *SettingsStore) Delete(ctx context.Context, tenantKey, provider string) error {
	tenantKey, provider, _ = settingsKey(tenantKey, provider)
	if _, err := s.db.Exec(ctx,
		`DELETE FROM payment_settings WHERE tenant_key = $1 AND provider = $2`,
		tenantKey, provider,
	); err != nil {
		return fmt.Errorf("delete payment settings: %w", err)
	}
	return nil
}
