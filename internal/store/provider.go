package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/provider"
)

const (
	pointerActive  = "active"
	pointerDefault = "default"
)

// providerRow is the on-disk shape of a provider record.
type providerRow struct {
	ID               int64  `db:"id"`
	Name             string `db:"name"`
	Model            string `db:"model"`
	APIKey           string `db:"api_key"`
	BaseURL          string `db:"base_url"`
	Params           string `db:"params"`
	EmbeddingModel   string `db:"embedding_model"`
	EmbeddingAPIKey  string `db:"embedding_api_key"`
	EmbeddingBaseURL string `db:"embedding_base_url"`
	EmbeddingParams  string `db:"embedding_params"`
	CreatedAt        int64  `db:"created_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

const providerColumns = `id, name, model, api_key, base_url, params,
	embedding_model, embedding_api_key, embedding_base_url, embedding_params,
	created_at, updated_at`

func (s *Store) toConfig(r *providerRow) (*provider.ProviderConfig, error) {
	apiKey, err := s.openSecret(r.APIKey)
	if err != nil {
		return nil, &StorageError{Op: "decrypt api_key", Err: err}
	}
	embKey, err := s.openSecret(r.EmbeddingAPIKey)
	if err != nil {
		return nil, &StorageError{Op: "decrypt embedding_api_key", Err: err}
	}
	cfg := &provider.ProviderConfig{
		ID:               r.ID,
		Name:             r.Name,
		Model:            r.Model,
		APIKey:           apiKey,
		BaseURL:          r.BaseURL,
		EmbeddingModel:   r.EmbeddingModel,
		EmbeddingAPIKey:  embKey,
		EmbeddingBaseURL: r.EmbeddingBaseURL,
		CreatedAt:        fromMicros(r.CreatedAt),
		UpdatedAt:        fromMicros(r.UpdatedAt),
	}
	if cfg.Params, err = decodeParams(r.Params); err != nil {
		return nil, &StorageError{Op: "decode params", Err: err}
	}
	if cfg.EmbeddingParams, err = decodeParams(r.EmbeddingParams); err != nil {
		return nil, &StorageError{Op: "decode embedding_params", Err: err}
	}
	return cfg, nil
}

func decodeParams(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func encodeParams(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Save inserts cfg when cfg.ID is zero, otherwise replaces the record with
// that ID. Display names are unique: a clash returns ErrDuplicateName and
// leaves the database untouched. When isActive is set the active pointer
// moves to this record in the same transaction. On success cfg.ID and the
// timestamps are filled in.
func (s *Store) Save(ctx context.Context, cfg *provider.ProviderConfig, isActive bool) (int64, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	apiKey, err := s.sealSecret(cfg.APIKey)
	if err != nil {
		return 0, &StorageError{Op: "encrypt api_key", Err: err}
	}
	embKey, err := s.sealSecret(cfg.EmbeddingAPIKey)
	if err != nil {
		return 0, &StorageError{Op: "encrypt embedding_api_key", Err: err}
	}
	params, err := encodeParams(cfg.Params)
	if err != nil {
		return 0, &provider.ValidationError{Field: "params", Reason: err.Error()}
	}
	embParams, err := encodeParams(cfg.EmbeddingParams)
	if err != nil {
		return 0, &provider.ValidationError{Field: "embedding_params", Reason: err.Error()}
	}

	ts := now()
	id := cfg.ID
	createdAt := ts
	err = s.withTx(ctx, "save provider", func(tx *sqlx.Tx) error {
		var clash int64
		err := tx.GetContext(ctx, &clash,
			`SELECT id FROM providers WHERE name = ? AND id != ?`, cfg.Name, cfg.ID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %q", ErrDuplicateName, cfg.Name)
		case !errors.Is(err, sql.ErrNoRows):
			return &StorageError{Op: "check name", Err: err}
		}

		if id == 0 {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO providers (name, model, api_key, base_url, params,
					embedding_model, embedding_api_key, embedding_base_url, embedding_params,
					created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				cfg.Name, cfg.Model, apiKey, cfg.BaseURL, params,
				cfg.EmbeddingModel, embKey, cfg.EmbeddingBaseURL, embParams,
				ts.UnixMicro(), ts.UnixMicro())
			if err != nil {
				return &StorageError{Op: "insert provider", Err: err}
			}
			if id, err = res.LastInsertId(); err != nil {
				return &StorageError{Op: "insert provider", Err: err}
			}
		} else {
			var created int64
			err := tx.GetContext(ctx, &created, `SELECT created_at FROM providers WHERE id = ?`, id)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("provider %d: %w", id, ErrNotFound)
			}
			if err != nil {
				return &StorageError{Op: "load provider", Err: err}
			}
			createdAt = fromMicros(created)
			if _, err := tx.ExecContext(ctx, `
				UPDATE providers SET name = ?, model = ?, api_key = ?, base_url = ?, params = ?,
					embedding_model = ?, embedding_api_key = ?, embedding_base_url = ?,
					embedding_params = ?, updated_at = ?
				WHERE id = ?`,
				cfg.Name, cfg.Model, apiKey, cfg.BaseURL, params,
				cfg.EmbeddingModel, embKey, cfg.EmbeddingBaseURL, embParams,
				ts.UnixMicro(), id); err != nil {
				return &StorageError{Op: "update provider", Err: err}
			}
		}

		if isActive {
			return setPointer(ctx, tx, pointerActive, id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	cfg.ID = id
	cfg.CreatedAt = createdAt
	cfg.UpdatedAt = ts
	s.logger.Info("provider saved",
		zap.Int64("id", id), zap.String("name", cfg.Name), zap.Bool("active", isActive))
	return id, nil
}

func setPointer(ctx context.Context, tx *sqlx.Tx, kind string, id int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE provider_pointers SET provider_id = ? WHERE kind = ?`, id, kind); err != nil {
		return &StorageError{Op: "set " + kind + " pointer", Err: err}
	}
	return nil
}

func (s *Store) getLocked(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*provider.ProviderConfig, error) {
	var row providerRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get provider", Err: err}
	}
	return s.toConfig(&row)
}

// Get returns the provider with the given ID or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*provider.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.getLocked(ctx, s.db, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("provider %d: %w", id, ErrNotFound)
	}
	return cfg, err
}

// GetByName returns the provider with the given display name or ErrNotFound.
func (s *Store) GetByName(ctx context.Context, name string) (*provider.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.getLocked(ctx, s.db, `SELECT `+providerColumns+` FROM providers WHERE name = ?`, name)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("provider %q: %w", name, ErrNotFound)
	}
	return cfg, err
}

// List returns every provider in creation order.
func (s *Store) List(ctx context.Context) ([]*provider.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []providerRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+providerColumns+` FROM providers ORDER BY id`); err != nil {
		return nil, &StorageError{Op: "list providers", Err: err}
	}
	out := make([]*provider.ProviderConfig, 0, len(rows))
	for i := range rows {
		cfg, err := s.toConfig(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s *Store) getPointed(ctx context.Context, kind string) (*provider.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.getLocked(ctx, s.db, `
		SELECT p.id, p.name, p.model, p.api_key, p.base_url, p.params,
			p.embedding_model, p.embedding_api_key, p.embedding_base_url, p.embedding_params,
			p.created_at, p.updated_at
		FROM provider_pointers pp JOIN providers p ON p.id = pp.provider_id
		WHERE pp.kind = ?`, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return cfg, err
}

// GetActive returns the active provider, or nil when none is set.
func (s *Store) GetActive(ctx context.Context) (*provider.ProviderConfig, error) {
	return s.getPointed(ctx, pointerActive)
}

// GetDefault returns the default provider, or nil when none is set.
func (s *Store) GetDefault(ctx context.Context) (*provider.ProviderConfig, error) {
	return s.getPointed(ctx, pointerDefault)
}

func (s *Store) pointTo(ctx context.Context, kind string, id int64) error {
	return s.withTx(ctx, "set "+kind, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM providers WHERE id = ?`, id); err != nil {
			return &StorageError{Op: "check provider", Err: err}
		}
		if n == 0 {
			return fmt.Errorf("provider %d: %w", id, ErrNotFound)
		}
		return setPointer(ctx, tx, kind, id)
	})
}

// SetActive moves the active pointer to id.
func (s *Store) SetActive(ctx context.Context, id int64) error {
	return s.pointTo(ctx, pointerActive, id)
}

// SetDefault moves the default pointer to id.
func (s *Store) SetDefault(ctx context.Context, id int64) error {
	return s.pointTo(ctx, pointerDefault, id)
}

// Pointers returns the active and default provider IDs; zero means unset.
func (s *Store) Pointers(ctx context.Context) (active, def int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []struct {
		Kind       string        `db:"kind"`
		ProviderID sql.NullInt64 `db:"provider_id"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT kind, provider_id FROM provider_pointers`); err != nil {
		return 0, 0, &StorageError{Op: "read pointers", Err: err}
	}
	for _, r := range rows {
		switch r.Kind {
		case pointerActive:
			active = r.ProviderID.Int64
		case pointerDefault:
			def = r.ProviderID.Int64
		}
	}
	return active, def, nil
}

// Delete removes a provider and clears any pointer that referenced it.
func (s *Store) Delete(ctx context.Context, id int64) error {
	err := s.withTx(ctx, "delete provider", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE provider_pointers SET provider_id = NULL WHERE provider_id = ?`, id); err != nil {
			return &StorageError{Op: "clear pointers", Err: err}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
		if err != nil {
			return &StorageError{Op: "delete provider", Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return &StorageError{Op: "delete provider", Err: err}
		}
		if n == 0 {
			return fmt.Errorf("provider %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err == nil {
		s.logger.Info("provider deleted", zap.Int64("id", id))
	}
	return err
}

// Count returns the number of stored providers.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM providers`); err != nil {
		return 0, &StorageError{Op: "count providers", Err: err}
	}
	return n, nil
}

// HasProviders reports whether any provider exists; false means first run.
func (s *Store) HasProviders(ctx context.Context) (bool, error) {
	n, err := s.Count(ctx)
	return n > 0, err
}

// ClearAll deletes every provider and unsets both pointers.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.withTx(ctx, "clear providers", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE provider_pointers SET provider_id = NULL`); err != nil {
			return &StorageError{Op: "clear pointers", Err: err}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM providers`); err != nil {
			return &StorageError{Op: "delete providers", Err: err}
		}
		return nil
	})
}
