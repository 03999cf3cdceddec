package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/ocr-bench/internal/config"
	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/observability"
	"github.com/spherical/ocr-bench/internal/storage"
)

func TestSetField(t *testing.T) {
	var pc domain.ProviderConfig

	require.NoError(t, setField(&pc, "enabled", "true"))
	require.NoError(t, setField(&pc, "use_entra_id", "1"))
	require.NoError(t, setField(&pc, "endpoint", "https://x.openai.azure.com"))
	require.NoError(t, setField(&pc, "languages", "eng,deu"))

	assert.True(t, pc.Enabled)
	assert.True(t, pc.UseEntraID)
	assert.Equal(t, "https://x.openai.azure.com", pc.Endpoint)
	assert.Equal(t, []string{"eng", "deu"}, pc.Languages)

	tests := []struct {
		key, value string
	}{
		{"enabled", "maybe"},
		{"colour", "blue"},
	}
	for _, tt := range tests {
		err := setField(&pc, tt.key, tt.value)
		assert.True(t, domain.IsType(err, domain.ErrorTypeValidation), tt.key)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "****", mask("short"))
	assert.Equal(t, "sk-o****", mask("sk-or-v1-abcdef"))
}

func TestSeedConfiguration(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenMemory(ctx)
	require.NoError(t, err)
	defer db.Close()
	stores := storage.NewStores(db)

	cfg := config.DefaultConfig()
	cfg.Providers = domain.Configuration{"openrouter": {Enabled: true, APIKey: "from-env"}}

	require.NoError(t, seedConfiguration(ctx, stores, cfg, observability.Nop()))
	got, err := stores.Config.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got["openrouter"].APIKey)

	// A populated store is left alone.
	cfg.Providers = domain.Configuration{"openrouter": {Enabled: true, APIKey: "newer"}}
	require.NoError(t, seedConfiguration(ctx, stores, cfg, observability.Nop()))
	got, err = stores.Config.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got["openrouter"].APIKey)
}
