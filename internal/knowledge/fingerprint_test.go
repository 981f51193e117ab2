package knowledge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprints.json")

	store, err := OpenFingerprintStore(path)
	require.NoError(t, err)

	_, ok := store.Get("https://example.com/doc")
	assert.False(t, ok)

	fp := Fingerprint{
		Digest:       ContentDigest([]byte("body")),
		ChunksLoaded: 3,
		Embedder:     "openai/text-embedding-3-small",
		LoadedAt:     time.Now(),
	}
	require.NoError(t, store.Put("https://example.com/doc", fp))

	// Reopen from disk.
	reopened, err := OpenFingerprintStore(path)
	require.NoError(t, err)

	got, ok := reopened.Get("https://example.com/doc")
	require.True(t, ok)
	assert.Equal(t, fp.Digest, got.Digest)
	assert.Equal(t, 3, got.ChunksLoaded)
	assert.Equal(t, fp.Embedder, got.Embedder)
}

func TestFingerprintStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprints.json")

	store, err := OpenFingerprintStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("a", Fingerprint{Digest: "d1"}))
	require.NoError(t, store.Clear())

	_, ok := store.Get("a")
	assert.False(t, ok)

	reopened, err := OpenFingerprintStore(path)
	require.NoError(t, err)
	_, ok = reopened.Get("a")
	assert.False(t, ok)
}

func TestContentDigestIsStable(t *testing.T) {
	assert.Equal(t, ContentDigest([]byte("same")), ContentDigest([]byte("same")))
	assert.NotEqual(t, ContentDigest([]byte("one")), ContentDigest([]byte("two")))
}
