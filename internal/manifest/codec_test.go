package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPlan(t *testing.T, workDir string) *Plan {
	t.Helper()
	plan, err := NewPlan("https://example.com/f.bin", "f.bin", 1000, filepath.Join(workDir, "..", "f.bin"), workDir, "application/octet-stream", "UA/1.0", 4, 500_000)
	require.NoError(t, err)
	return plan
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	plan := mustPlan(t, t.TempDir())
	blob, err := Encode(plan)
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, plan, decoded)
}

func TestEncodeIsNotPlainJSON(t *testing.T) {
	plan := mustPlan(t, t.TempDir())
	blob, err := Encode(plan)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "url")
	assert.NotContains(t, string(blob), plan.URL)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not hex at all"))
	require.ErrorIs(t, err, ErrInvalidManifest)
}

func TestDecodeRejectsValidHexInvalidJSON(t *testing.T) {
	// Valid hex, but the reversed bytes aren't JSON.
	_, err := Decode([]byte("deadbeef"))
	require.ErrorIs(t, err, ErrInvalidManifest)
}

func TestWriteLoadRoundTripsThroughDisk(t *testing.T) {
	workDir := t.TempDir()
	plan := mustPlan(t, workDir)
	require.NoError(t, Write(plan))

	loaded, err := Load(workDir)
	require.NoError(t, err)
	assert.Equal(t, plan, loaded)

	info, err := os.Stat(Path(workDir))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
