package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/model"
	"github.com/Veraticus/tillpoint/internal/terminal"
)

const terminalColumns = `id, name, ip_address, port, sealed_api_key, terminal_type,
	enabled, auto_connect, device_info, last_status, last_seen`

// SaveTerminal validates, seals and upserts a terminal configuration. A
// missing id is generated. When cfg carries no API key the stored key is
// kept. The returned configuration never holds the plaintext key.
func (s *SQLiteStorage) SaveTerminal(ctx context.Context, cfg model.TerminalConfig) (model.TerminalConfig, error) {
	if err := validateContext(ctx); err != nil {
		return model.TerminalConfig{}, err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	if cfg.APIKey == "" && cfg.SealedAPIKey == "" {
		if existing, found, err := s.loadTerminal(ctx, cfg.ID); err != nil {
			return model.TerminalConfig{}, err
		} else if found {
			cfg.SealedAPIKey = existing.SealedAPIKey
		}
	}

	if err := cfg.Validate(); err != nil {
		return model.TerminalConfig{}, err
	}

	if cfg.APIKey != "" {
		sealed, err := s.secrets.Encrypt(cfg.APIKey)
		if err != nil {
			return model.TerminalConfig{}, fmt.Errorf("failed to seal API key: %w", err)
		}
		cfg.SealedAPIKey = sealed
		cfg.APIKey = ""
	}

	var deviceInfo sql.NullString
	if cfg.DeviceInfo != nil {
		raw, err := json.Marshal(cfg.DeviceInfo)
		if err != nil {
			return model.TerminalConfig{}, fmt.Errorf("failed to encode device info: %w", err)
		}
		deviceInfo = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminals (id, name, ip_address, port, sealed_api_key, terminal_type,
			enabled, auto_connect, device_info, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			ip_address = excluded.ip_address,
			port = excluded.port,
			sealed_api_key = excluded.sealed_api_key,
			terminal_type = excluded.terminal_type,
			enabled = excluded.enabled,
			auto_connect = excluded.auto_connect,
			device_info = excluded.device_info,
			updated_at = excluded.updated_at`,
		cfg.ID, cfg.Name, cfg.IPAddress, cfg.Port, cfg.SealedAPIKey, string(cfg.TerminalType),
		cfg.Enabled, cfg.AutoConnect, deviceInfo, s.now().UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return model.TerminalConfig{}, common.NewClassifiedError(common.CodeConfigInvalidIP,
				fmt.Sprintf("A terminal at %s is already configured", cfg.Endpoint()),
				common.WithTerminal(cfg.ID), common.WithCause(common.ErrInvalidConfig))
		}
		return model.TerminalConfig{}, fmt.Errorf("failed to save terminal: %w", err)
	}

	// Health columns are not written by this statement; reload to return
	// what is actually stored.
	saved, _, err := s.loadTerminal(ctx, cfg.ID)
	if err != nil {
		return model.TerminalConfig{}, err
	}
	s.cacheSet(ctx, saved)

	s.logger.Info("Saved terminal", "terminal", saved.ID, "endpoint", saved.Endpoint())
	return saved, nil
}

// GetTerminal returns a terminal configuration. Absence is reported through
// found, not as an error.
func (s *SQLiteStorage) GetTerminal(ctx context.Context, id string) (model.TerminalConfig, bool, error) {
	if err := validateContext(ctx); err != nil {
		return model.TerminalConfig{}, false, err
	}
	if err := validateString(id, "id"); err != nil {
		return model.TerminalConfig{}, false, err
	}

	cfg, found, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.Warn("Terminal cache read failed", "terminal", id, "error", err)
	} else if found {
		return cfg, true, nil
	}

	cfg, found, err = s.loadTerminal(ctx, id)
	if err != nil || !found {
		return model.TerminalConfig{}, found, err
	}
	s.cacheSet(ctx, cfg)
	return cfg, true, nil
}

// ListTerminals returns every configured terminal ordered by name.
func (s *SQLiteStorage) ListTerminals(ctx context.Context) ([]model.TerminalConfig, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+terminalColumns+` FROM terminals ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query terminals: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	terminals := []model.TerminalConfig{}
	for rows.Next() {
		cfg, err := scanTerminal(rows)
		if err != nil {
			return nil, err
		}
		terminals = append(terminals, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating terminals: %w", err)
	}
	return terminals, nil
}

// DeleteTerminal removes a terminal configuration.
func (s *SQLiteStorage) DeleteTerminal(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM terminals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete terminal: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}

	if cacheErr := s.cache.Invalidate(ctx, id); cacheErr != nil {
		s.logger.Warn("Terminal cache invalidation failed", "terminal", id, "error", cacheErr)
	}

	if rows == 0 {
		return fmt.Errorf("terminal %s: %w", id, common.ErrNotFound)
	}
	s.logger.Info("Deleted terminal", "terminal", id)
	return nil
}

// APIKey decrypts a terminal's stored API key.
func (s *SQLiteStorage) APIKey(ctx context.Context, id string) (string, error) {
	cfg, found, err := s.GetTerminal(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", notConfigured(id)
	}
	key, err := s.secrets.Decrypt(cfg.SealedAPIKey)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ClientConfig builds transport settings for an enabled terminal, with its
// API key decrypted.
func (s *SQLiteStorage) ClientConfig(ctx context.Context, id string) (terminal.Config, error) {
	cfg, found, err := s.GetTerminal(ctx, id)
	if err != nil {
		return terminal.Config{}, err
	}
	if !found {
		return terminal.Config{}, notConfigured(id)
	}
	if !cfg.Enabled {
		return terminal.Config{}, common.NewClassifiedError(common.CodeConfigTerminalNotConfigured,
			"Terminal is disabled", common.WithTerminal(id))
	}

	key, err := s.secrets.Decrypt(cfg.SealedAPIKey)
	if err != nil {
		return terminal.Config{}, err
	}
	return terminal.Config{
		TerminalID: cfg.ID,
		IPAddress:  cfg.IPAddress,
		Port:       cfg.Port,
		APIKey:     key,
	}, nil
}

// RecordHealth stores the outcome of a health check.
func (s *SQLiteStorage) RecordHealth(ctx context.Context, id string, status model.ConnectionStatus, seen time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var lastSeen sql.NullTime
	if !seen.IsZero() {
		lastSeen = sql.NullTime{Time: seen.UTC(), Valid: true}
	}

	// A failed check keeps the previous last_seen.
	result, err := s.db.ExecContext(ctx, `
		UPDATE terminals
		SET last_status = ?, last_seen = COALESCE(?, last_seen)
		WHERE id = ?`,
		string(status), lastSeen, id)
	if err != nil {
		return fmt.Errorf("failed to record terminal health: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("terminal %s: %w", id, common.ErrNotFound)
	}

	if cacheErr := s.cache.Invalidate(ctx, id); cacheErr != nil {
		s.logger.Warn("Terminal cache invalidation failed", "terminal", id, "error", cacheErr)
	}
	return nil
}

func (s *SQLiteStorage) loadTerminal(ctx context.Context, id string) (model.TerminalConfig, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+terminalColumns+` FROM terminals WHERE id = ?`, id)
	cfg, err := scanTerminal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TerminalConfig{}, false, nil
	}
	if err != nil {
		return model.TerminalConfig{}, false, err
	}
	return cfg, true, nil
}

func (s *SQLiteStorage) cacheSet(ctx context.Context, cfg model.TerminalConfig) {
	if err := s.cache.Set(ctx, cfg); err != nil {
		s.logger.Warn("Terminal cache write failed", "terminal", cfg.ID, "error", err)
		_ = s.cache.Invalidate(ctx, cfg.ID)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTerminal(row rowScanner) (model.TerminalConfig, error) {
	var (
		cfg          model.TerminalConfig
		terminalType string
		lastStatus   string
		deviceInfo   sql.NullString
		lastSeen     sql.NullTime
	)
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.IPAddress, &cfg.Port, &cfg.SealedAPIKey, &terminalType,
		&cfg.Enabled, &cfg.AutoConnect, &deviceInfo, &lastStatus, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TerminalConfig{}, err
	}
	if err != nil {
		return model.TerminalConfig{}, fmt.Errorf("failed to scan terminal: %w", err)
	}

	cfg.TerminalType = model.TerminalType(terminalType)
	cfg.LastStatus = model.ConnectionStatus(lastStatus)
	if lastSeen.Valid {
		t := lastSeen.Time
		cfg.LastSeen = &t
	}
	if deviceInfo.Valid && deviceInfo.String != "" {
		var info model.DeviceInfo
		if err := json.Unmarshal([]byte(deviceInfo.String), &info); err != nil {
			return model.TerminalConfig{}, common.NewClassifiedError(common.CodeSystemDataCorruption,
				"Stored device info is corrupted", common.WithTerminal(cfg.ID), common.WithCause(err))
		}
		cfg.DeviceInfo = &info
	}
	return cfg, nil
}

func notConfigured(id string) error {
	return common.NewClassifiedError(common.CodeConfigTerminalNotConfigured, "",
		common.WithTerminal(id), common.WithCause(common.ErrNotFound))
}
