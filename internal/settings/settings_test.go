package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hfdash/internal/config"
	"hfdash/internal/inference"
	"hfdash/internal/storage"
)

func newClient(apiKey, model string) *inference.Client {
	return inference.NewClient(config.HuggingFaceConfig{
		APIKey:       apiKey,
		BaseURL:      "http://127.0.0.1:0/models",
		DefaultModel: model,
	}, nil, nil)
}

func TestLoadDefaultsKeepsEnvironmentCredentials(t *testing.T) {
	ctx := context.Background()
	client := newClient("hf_env", "google/flan-t5-base")
	svc := NewService(storage.NewMemoryStore(), client, nil)

	loaded, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hf_env", loaded.APIKey)
	assert.Equal(t, "google/flan-t5-base", loaded.Model)
	assert.Equal(t, 200, loaded.MaxTokens)
	assert.Equal(t, 0.7, loaded.Temperature)
	assert.Equal(t, DefaultLanguage, loaded.Language)
	assert.Equal(t, ThemeLight, svc.Theme())
}

func TestSaveAndReload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	client := newClient("", "")
	svc := NewService(store, client, nil)

	saved, err := svc.Save(ctx, Settings{
		APIKey:      "  hf_saved  ",
		Model:       "facebook/bart-large-cnn",
		MaxTokens:   300,
		Temperature: 1.1,
		Language:    "en",
	})
	require.NoError(t, err)
	assert.Equal(t, "hf_saved", saved.APIKey)
	assert.Equal(t, "hf_saved", client.Credentials().APIKey)
	assert.Equal(t, "facebook/bart-large-cnn", client.Credentials().Model)

	key, ok, _ := store.Get(ctx, storage.KeyAPIKey)
	assert.True(t, ok)
	assert.Equal(t, "hf_saved", key)

	fresh := newClient("", "")
	reloaded, err := NewService(store, fresh, nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, reloaded)
	assert.Equal(t, "hf_saved", fresh.Credentials().APIKey)
	assert.Equal(t, inference.Options{MaxTokens: 300, Temperature: 1.1, Language: "en"}, reloaded.GenerationOptions())
}

func TestClearedKeyStaysClearedAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	client := newClient("hf_env", "")
	svc := NewService(store, client, nil)
	_, err := svc.Load(ctx)
	require.NoError(t, err)

	_, err = svc.Save(ctx, Settings{APIKey: "", Model: "google/flan-t5-base"})
	require.NoError(t, err)
	assert.False(t, client.Configured())

	restarted := newClient("hf_env", "")
	loaded, err := NewService(store, restarted, nil).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded.APIKey)
	assert.False(t, restarted.Configured())
}

func TestSaveRejectsOutOfRange(t *testing.T) {
	svc := NewService(storage.NewMemoryStore(), newClient("", ""), nil)

	_, err := svc.Save(context.Background(), Settings{MaxTokens: 5000})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Save(context.Background(), Settings{Temperature: 3})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadCorruptSettingsFallsBack(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, storage.KeySettings, `{"maxTokens":"lots"`))
	require.NoError(t, store.Set(ctx, storage.KeyModel, "google/flan-t5-large"))

	loaded, err := NewService(store, newClient("", ""), nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, loaded.MaxTokens)
	assert.Equal(t, "google/flan-t5-large", loaded.Model)
}

func TestResetClearsCredentials(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	client := newClient("", "")
	svc := NewService(store, client, nil)

	_, err := svc.Save(ctx, Settings{APIKey: "hf_x", Model: "google/flan-t5-base", MaxTokens: 50})
	require.NoError(t, err)

	defaults, err := svc.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), defaults)
	assert.False(t, client.Configured())
	assert.Equal(t, inference.DefaultModel(), client.Credentials().Model)

	for _, key := range []string{storage.KeySettings, storage.KeyAPIKey, storage.KeyModel} {
		_, ok, _ := store.Get(ctx, key)
		assert.False(t, ok, key)
	}
}

func TestSetModel(t *testing.T) {
	client := newClient("hf_x", "")
	svc := NewService(storage.NewMemoryStore(), client, nil)
	_, err := svc.Load(context.Background())
	require.NoError(t, err)

	updated, err := svc.SetModel(context.Background(), "Helsinki-NLP/opus-mt-en-fa")
	require.NoError(t, err)
	assert.Equal(t, "Helsinki-NLP/opus-mt-en-fa", updated.Model)
	assert.Equal(t, "hf_x", updated.APIKey)
	assert.Equal(t, "Helsinki-NLP/opus-mt-en-fa", client.Credentials().Model)
}

func TestTheme(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService(store, newClient("", ""), nil)

	require.NoError(t, svc.SetTheme(ctx, ThemeDark))
	assert.ErrorIs(t, svc.SetTheme(ctx, "neon"), ErrInvalid)

	other := NewService(store, newClient("", ""), nil)
	_, err := other.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, other.Theme())
}

func TestMasked(t *testing.T) {
	assert.Equal(t, "hf_a****wxyz", Settings{APIKey: "hf_a1234wxyz"}.Masked().APIKey)
	assert.Equal(t, "****", Settings{APIKey: "abcd"}.Masked().APIKey)
	assert.Equal(t, "", Settings{}.Masked().APIKey)
}
