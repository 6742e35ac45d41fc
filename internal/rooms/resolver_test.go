package rooms

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testResolver(t *testing.T, public, secrets string) *Resolver {
	t.Helper()
	dir := t.TempDir()
	publicPath := writeConfig(t, dir, "salas.json", public)
	secretsPath := filepath.Join(dir, "salas.secrets.json")
	if secrets != "" {
		writeConfig(t, dir, "salas.secrets.json", secrets)
	}
	return NewResolver(publicPath, secretsPath, logging.NewLogger())
}

func TestSnapshotMergesSecrets(t *testing.T) {
	r := testResolver(t,
		`{"madrid": {"sala1": {"ws": "ws://10.0.0.5:4455", "enabled": true}}}`,
		`{"madrid": {"sala1": {"password": "hunter2"}}}`,
	)

	snap, err := r.Snapshot()
	require.NoError(t, err)

	cfg, ok := snap.Room("madrid", "sala1")
	require.True(t, ok)
	assert.Equal(t, "hunter2", ExtractPassword(cfg))
	assert.Equal(t, "ws://10.0.0.5:4455", ExtractEndpoint(cfg))

	require.Len(t, snap.PublicList, 1)
	assert.True(t, snap.PublicList[0].HasSecrets)
	assert.NotContains(t, snap.PublicList[0].Config, "password")
	require.Len(t, snap.FullList, 1)
	assert.Equal(t, "hunter2", snap.FullList[0].Config["password"])

	assert.Equal(t, 1, snap.Counts.TotalSedes)
	assert.Equal(t, 1, snap.Counts.TotalSalas)
	assert.Equal(t, 1, snap.Counts.WithSecrets)
	assert.Empty(t, snap.Warnings)
}

func TestSnapshotWarnsMissingSecrets(t *testing.T) {
	r := testResolver(t,
		`{"madrid": {"sala1": {"ws": "ws://a:4455"}, "sala2": {"ws": "ws://b:4455", "needsSecrets": false}}}`,
		"",
	)

	snap, err := r.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Counts.MissingSecrets)
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, WarnMissingSecrets, snap.Warnings[0].Code)
	assert.Equal(t, "madrid/sala1", snap.Warnings[0].ID)
}

func TestSnapshotWarnsSecretsExtra(t *testing.T) {
	r := testResolver(t,
		`{"madrid": {"sala1": {"ws": "ws://a:4455"}}}`,
		`{"madrid": {"sala1": {"password": "x"}, "ghost": {"password": "y"}}}`,
	)

	snap, err := r.Snapshot()
	require.NoError(t, err)

	var codes []string
	for _, w := range snap.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, WarnSecretsExtra)
}

func TestSnapshotWarnsDuplicates(t *testing.T) {
	r := testResolver(t,
		`{
			"madrid": {
				"sala1": {"ws": "ws://shared:4455", "rtsp": "rtsp://cam", "needsSecrets": false},
				"sala2": {"ws": "WS://SHARED:4455", "rtsp": "rtsp://cam", "needsSecrets": false}
			}
		}`,
		"",
	)

	snap, err := r.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Counts.DuplicateEndpoints)
	assert.Equal(t, 1, snap.Counts.DuplicateStreamSources)

	byCode := map[string]Warning{}
	for _, w := range snap.Warnings {
		byCode[w.Code] = w
	}
	require.Contains(t, byCode, WarnDuplicateEndpoint)
	assert.ElementsMatch(t, []string{"madrid/sala1", "madrid/sala2"}, byCode[WarnDuplicateEndpoint].IDs)
	require.Contains(t, byCode, WarnDuplicateStreamSource)
}

func TestSnapshotMissingPublicConfig(t *testing.T) {
	r := NewResolver(filepath.Join(t.TempDir(), "absent.json"), "", logging.NewLogger())

	_, err := r.Snapshot()
	require.Error(t, err)
	assert.Equal(t, apperr.ConfigLoadFailed, apperr.KindOf(err))
}

func TestSnapshotInvalidPublicConfig(t *testing.T) {
	dir := t.TempDir()
	publicPath := writeConfig(t, dir, "salas.json", "{not json")
	r := NewResolver(publicPath, "", logging.NewLogger())

	_, err := r.Snapshot()
	require.Error(t, err)
	assert.Equal(t, apperr.ConfigLoadFailed, apperr.KindOf(err))
}

func TestSnapshotCachedUntilInvalidated(t *testing.T) {
	dir := t.TempDir()
	publicPath := writeConfig(t, dir, "salas.json", `{"madrid": {"sala1": {"ws": "ws://a:4455", "needsSecrets": false}}}`)
	r := NewResolver(publicPath, "", logging.NewLogger()).WithTTL(time.Hour)

	first, err := r.Snapshot()
	require.NoError(t, err)

	writeConfig(t, dir, "salas.json", `{"madrid": {"sala1": {"ws": "ws://a:4455", "needsSecrets": false}, "sala2": {"ws": "ws://b:4455", "needsSecrets": false}}}`)

	cached, err := r.Snapshot()
	require.NoError(t, err)
	assert.Same(t, first, cached)

	r.Invalidate()
	fresh, err := r.Snapshot()
	require.NoError(t, err)
	assert.Len(t, fresh.FullList, 2)
}

func TestSnapshotSortedByID(t *testing.T) {
	r := testResolver(t,
		`{
			"zaragoza": {"sala1": {"ws": "ws://z:4455", "needsSecrets": false}},
			"avila": {"sala9": {"ws": "ws://a9:4455", "needsSecrets": false}, "sala1": {"ws": "ws://a1:4455", "needsSecrets": false}}
		}`,
		"",
	)

	snap, err := r.Snapshot()
	require.NoError(t, err)

	var ids []string
	for _, e := range snap.PublicList {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"avila/sala1", "avila/sala9", "zaragoza/sala1"}, ids)
}
