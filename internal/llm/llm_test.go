package llm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.quorum.engine/internal/models"
)

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegistry_BuildAll(t *testing.T) {
	reg := NewRegistry()
	RegisterScripted(reg)

	configs := []models.ProviderConfig{
		{Name: "alpha", Kind: "scripted"},
		{Name: "beta", Kind: "scripted"},
	}

	providers, err := reg.BuildAll(configs, NewResolver(""))
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "alpha", providers[0].Name())
	assert.Equal(t, "beta", providers[1].Name())
}

func TestRegistry_UnknownKind(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Build(models.ProviderConfig{Name: "x", Kind: "nope"}, NewResolver(""))
	require.Error(t, err)
	assert.Equal(t, models.KindConfig, models.KindOf(err))
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()
	RegisterScripted(reg)

	_, err := reg.BuildAll([]models.ProviderConfig{
		{Name: "alpha", Kind: "scripted"},
		{Name: "alpha", Kind: "scripted"},
	}, NewResolver(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

// ============================================================================
// Scripted Provider Tests
// ============================================================================

func TestScriptedProvider_ReplaysInOrder(t *testing.T) {
	p := NewScriptedProvider(models.ProviderConfig{Name: "alpha"}, "first", "second")

	out, err := p.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, err = p.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "second", out)

	// Last response repeats.
	out, err = p.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "second", out)
	assert.Equal(t, 3, p.Calls())
}

func TestScriptedProvider_FailWith(t *testing.T) {
	boom := errors.New("upstream down")
	p := NewScriptedProvider(models.ProviderConfig{Name: "alpha"}, "ok").FailWith(boom, boom)

	_, err := p.Generate(context.Background(), "q", "")
	assert.ErrorIs(t, err, boom)
	_, err = p.Generate(context.Background(), "q", "")
	assert.ErrorIs(t, err, boom)

	out, err := p.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestGenerate_StreamUpgrade(t *testing.T) {
	p := NewScriptedProvider(models.ProviderConfig{Name: "alpha"}, "streamed text")

	var deltas []string
	out, err := Generate(context.Background(), p, "q", "", func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, "streamed text", out)
	assert.Equal(t, []string{"streamed text"}, deltas)
}

// ============================================================================
// Credential Resolver Tests
// ============================================================================

func TestResolver_Env(t *testing.T) {
	t.Setenv("QUORUM_TEST_KEY", "sekrit")

	r := NewResolver("")
	got, err := r.Resolve("env:QUORUM_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sekrit", got)

	// Unprefixed specs default to env.
	got, err = r.Resolve("QUORUM_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sekrit", got)
}

func TestResolver_MissingEnv(t *testing.T) {
	r := NewResolver("")
	_, err := r.Resolve("env:QUORUM_DEFINITELY_UNSET")
	assert.Error(t, err)
}

func TestResolver_UnknownScheme(t *testing.T) {
	r := NewResolver("")
	_, err := r.Resolve("vault:something")
	assert.Error(t, err)
}

// ============================================================================
// OAuth Store Tests
// ============================================================================

func TestOAuthStore_SwapAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth.json")
	store := NewOAuthStore(path)

	require.NoError(t, store.Swap("openai", 0, OAuthToken{AccessToken: "tok-1"}))

	token, err := store.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.AccessToken)
	assert.Equal(t, 1, token.Version)

	// Refresh with the current version succeeds.
	require.NoError(t, store.Swap("openai", 1, OAuthToken{AccessToken: "tok-2"}))

	// A stale refresh loses.
	err = store.Swap("openai", 1, OAuthToken{AccessToken: "tok-stale"})
	assert.Error(t, err)

	token, err = store.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token.AccessToken)
}

func TestOAuthStore_GetMissing(t *testing.T) {
	store := NewOAuthStore(filepath.Join(t.TempDir(), "oauth.json"))
	_, err := store.Get("nobody")
	assert.Error(t, err)
}
