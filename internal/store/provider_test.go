package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidhogg/resumemind/internal/provider"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), DefaultFileName), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func assertSameConfig(t *testing.T, want, got *provider.ProviderConfig) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Model, got.Model)
	assert.Equal(t, want.APIKey, got.APIKey)
	assert.Equal(t, want.BaseURL, got.BaseURL)
	assert.Equal(t, want.EmbeddingModel, got.EmbeddingModel)
	assert.Equal(t, want.EmbeddingAPIKey, got.EmbeddingAPIKey)
	assert.Equal(t, want.EmbeddingBaseURL, got.EmbeddingBaseURL)
	assert.Equal(t, want.Params, got.Params)
	assert.Equal(t, want.EmbeddingParams, got.EmbeddingParams)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at %v != %v", want.UpdatedAt, got.UpdatedAt)
}

func TestSaveThenGetReturnsEqualConfig(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := &provider.ProviderConfig{
		Name:             "work",
		Model:            "gpt-4o",
		APIKey:           "sk-test",
		BaseURL:          "https://api.example.com/v1",
		EmbeddingModel:   "text-embedding-3-large",
		EmbeddingBaseURL: "https://embed.example.com/v1",
		Params:           map[string]any{"temperature": 0.2},
	}
	id, err := s.Save(ctx, cfg, false)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, id, cfg.ID)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assertSameConfig(t, cfg, got)
}

func TestSaveReplacesWholeRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := &provider.ProviderConfig{Name: "A", Model: "gpt-4o", APIKey: "k1", EmbeddingModel: "text-embedding-3-small"}
	id, err := s.Save(ctx, cfg, false)
	require.NoError(t, err)

	replacement := &provider.ProviderConfig{ID: id, Name: "A renamed", Model: "gpt-4o-mini"}
	_, err = s.Save(ctx, replacement, false)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "A renamed", got.Name)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Empty(t, got.APIKey, "replacement has no partial patch semantics")
	assert.Empty(t, got.EmbeddingModel)
	assert.True(t, cfg.CreatedAt.Equal(got.CreatedAt), "created_at survives replacement")

	_, err = s.Save(ctx, &provider.ProviderConfig{ID: 999, Name: "ghost", Model: "gpt-4o"}, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAtMostOneActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &provider.ProviderConfig{Name: "A", Model: "gpt-4o"}
	b := &provider.ProviderConfig{Name: "B", Model: "claude-3-5-sonnet-20241022"}
	_, err := s.Save(ctx, a, true)
	require.NoError(t, err)
	_, err = s.Save(ctx, b, true)
	require.NoError(t, err)

	active, _, err := s.Pointers(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, active)

	require.NoError(t, s.SetActive(ctx, a.ID))
	got, err := s.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}

func TestDeleteActiveClearsPointer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &provider.ProviderConfig{Name: "A", Model: "gpt-4o"}
	_, err := s.Save(ctx, a, true)
	require.NoError(t, err)
	require.NoError(t, s.SetDefault(ctx, a.ID))

	require.NoError(t, s.Delete(ctx, a.ID))

	active, err := s.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
	def, err := s.GetDefault(ctx)
	require.NoError(t, err)
	assert.Nil(t, def)

	activeID, defID, err := s.Pointers(ctx)
	require.NoError(t, err)
	assert.Zero(t, activeID)
	assert.Zero(t, defID)
}

func TestDuplicateNameRejectedWithoutMutation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &provider.ProviderConfig{Name: "A", Model: "gpt-4o", APIKey: "first"}
	_, err := s.Save(ctx, a, true)
	require.NoError(t, err)
	b := &provider.ProviderConfig{Name: "B", Model: "gpt-4o"}
	_, err = s.Save(ctx, b, false)
	require.NoError(t, err)

	before, err := s.List(ctx)
	require.NoError(t, err)

	_, err = s.Save(ctx, &provider.ProviderConfig{Name: "A", Model: "gpt-4o-mini", APIKey: "second"}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.True(t, IsValidation(err))
	assert.False(t, IsStorage(err))

	// Renaming B onto A is rejected too.
	_, err = s.Save(ctx, &provider.ProviderConfig{ID: b.ID, Name: "A", Model: "gpt-4o"}, false)
	assert.ErrorIs(t, err, ErrDuplicateName)

	after, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assertSameConfig(t, before[i], after[i])
	}
	active, err := s.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID, "active pointer must not move")
}

func TestValidationErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, cfg := range []*provider.ProviderConfig{
		{Name: "", Model: "gpt-4o"},
		{Name: "x", Model: ""},
		{Name: "x", Model: "not a model"},
	} {
		_, err := s.Save(ctx, cfg, false)
		assert.True(t, IsValidation(err), "expected validation error for %+v, got %v", cfg, err)
	}
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListInCreationOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	names := []string{"zeta", "alpha", "mid", "beta", "omega"}
	for _, n := range names {
		_, err := s.Save(ctx, &provider.ProviderConfig{Name: n, Model: "gpt-4o"}, false)
		require.NoError(t, err)
	}
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, len(names))
	for i, cfg := range list {
		assert.Equal(t, names[i], cfg.Name)
	}
}

func TestNotFoundSignals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, 42), ErrNotFound)
	assert.ErrorIs(t, s.SetDefault(ctx, 42), ErrNotFound)
	assert.ErrorIs(t, s.SetActive(ctx, 42), ErrNotFound)
	_, err = s.GetByName(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := s.GetActive(ctx)
	assert.NoError(t, err)
	assert.Nil(t, active)
}

func TestActiveSwitchEndToEnd(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &provider.ProviderConfig{Name: "A", Model: "gpt-4o"}
	idA, err := s.Save(ctx, a, true)
	require.NoError(t, err)

	got, err := s.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	b := &provider.ProviderConfig{Name: "B", Model: "gpt-4o-mini"}
	_, err = s.Save(ctx, b, true)
	require.NoError(t, err)

	got, err = s.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Name)

	stillA, err := s.Get(ctx, idA)
	require.NoError(t, err)
	assert.Equal(t, "A", stillA.Name)
	assert.NotEqual(t, got.ID, stillA.ID)
}

func TestClearAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, &provider.ProviderConfig{Name: "A", Model: "gpt-4o"}, true)
	require.NoError(t, err)
	has, err := s.HasProviders(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.ClearAll(ctx))
	has, err = s.HasProviders(ctx)
	require.NoError(t, err)
	assert.False(t, has)
	active, err := s.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestConcurrentSavesKeepSingleActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Save(ctx, &provider.ProviderConfig{Name: fmt.Sprintf("p%02d", i), Model: "gpt-4o"}, true)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, n)

	active, err := s.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	activeID, _, err := s.Pointers(ctx)
	require.NoError(t, err)
	assert.Equal(t, active.ID, activeID)
}

func TestDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Save(ctx, &provider.ProviderConfig{Name: "A", Model: "gpt-4o"}, true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	active, err := s.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "A", active.Name)
}

func TestEncryptedKeys(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewCipher(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), DefaultFileName)
	ctx := context.Background()

	s, err := Open(path, WithCipher(c))
	require.NoError(t, err)
	cfg := &provider.ProviderConfig{Name: "A", Model: "gpt-4o", APIKey: "sk-secret", EmbeddingAPIKey: "sk-embed"}
	_, err = s.Save(ctx, cfg, false)
	require.NoError(t, err)

	var raw string
	require.NoError(t, s.db.GetContext(ctx, &raw, `SELECT api_key FROM providers WHERE id = ?`, cfg.ID))
	assert.NotContains(t, raw, "sk-secret")
	assert.Contains(t, raw, encPrefix)

	got, err := s.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", got.APIKey)
	assert.Equal(t, "sk-embed", got.EmbeddingAPIKey)
	require.NoError(t, s.Close())

	// Without the key the record cannot be read back.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(ctx, cfg.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCipher))
	assert.True(t, IsStorage(err))
}

func TestCipherFromEnv(t *testing.T) {
	t.Setenv(EncryptKeyEnv, "")
	c, err := CipherFromEnv(EncryptKeyEnv)
	require.NoError(t, err)
	assert.Nil(t, c)

	t.Setenv(EncryptKeyEnv, "abcd")
	_, err = CipherFromEnv(EncryptKeyEnv)
	assert.Error(t, err)

	t.Setenv(EncryptKeyEnv, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	c, err = CipherFromEnv(EncryptKeyEnv)
	require.NoError(t, err)
	enc, err := c.Encrypt("hello")
	require.NoError(t, err)
	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "hello", dec)
}

func TestSharedReturnsSingleInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	a, err := Shared(path)
	require.NoError(t, err)
	b, err := Shared(filepath.Join(t.TempDir(), "other.db"))
	require.NoError(t, err)
	assert.Same(t, a, b)
}
