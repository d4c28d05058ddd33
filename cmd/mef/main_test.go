package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

// newCLI points the commands at a bolt store in a temp dir, so state survives
// across command runs like it does across processes.
func newCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_DRIVER", "bolt")
	t.Setenv("BOLT_PATH", filepath.Join(dir, "mef.db"))
	t.Setenv("INDEX_DRIVER", "memory")
	t.Setenv("LOCK_DRIVER", "memory")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("GRAPH_ENABLED", "false")
	t.Setenv("TRACING_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("STARTUP_MAX_ATTEMPTS", "1")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand(bytes.NewReader(nil), &stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeSnapshot(t *testing.T, dir, name string, recs ...*marc.Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, marc.EncodeCollection(f, recs))
	return path
}

func TestPipelineCommands(t *testing.T) {
	dir := newCLI(t)

	links := filepath.Join(dir, "links.tsv")
	require.NoError(t, os.WriteFile(links, []byte(
		"http://viaf.org/viaf/66739143\tDNB|http://d-nb.info/gnd/12391664X\n"+
			"http://viaf.org/viaf/66739143\tRERO|A023655346\n"+
			"http://viaf.org/viaf/66739143\tLC|n79021164\n"), 0o644))

	out, err := run(t, "viaf", "load", "--format", "links", links)
	require.NoError(t, err)
	var loaded struct {
		Rows     int            `json:"rows"`
		Counters map[string]int `json:"counters"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &loaded))
	assert.Equal(t, 1, loaded.Rows)
	assert.Equal(t, 1, loaded.Counters["created"])

	gnd := writeSnapshot(t, dir, "gnd.xml", marc.NewBuilder("00000nz  a2200000nc 4500").
		Control("001", "12391664X").
		Field("100", "1", " ", "a", "Brissé, Nicolas").
		Record())
	out, err = run(t, "replay", "gnd", "agents", gnd)
	require.NoError(t, err)
	var counters map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &counters))
	assert.Equal(t, 1, counters["received"])
	assert.Equal(t, 1, counters["created"])

	rero := writeSnapshot(t, dir, "rero.xml", marc.NewBuilder("00000nz  a2200000n  4500").
		Field("035", " ", " ", "a", "(RERO)A023655346").
		Field("100", "1", " ", "a", "Brissé, Nicolas").
		Record())
	_, err = run(t, "replay", "rero", "agents", rero)
	require.NoError(t, err)

	out, err = run(t, "get-latest", "agents", "rero", "A023655346")
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "66739143", view[models.FieldViafPid])
	assert.Contains(t, view, "gnd")
	assert.Contains(t, view, "rero")

	out, err = run(t, "resolve", "agents", view[models.FieldPid].(string))
	require.NoError(t, err)
	var resolved map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resolved))
	assert.Equal(t, view, resolved)

	out, err = run(t, "updated", "agents")
	require.NoError(t, err)
	var updated []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &updated))
	require.Len(t, updated, 1)
	assert.Equal(t, view[models.FieldPid], updated[0]["pid"])

	out, err = run(t, "reindex")
	require.NoError(t, err)
	assert.Contains(t, out, `"documents"`)
}

func TestCommandErrors(t *testing.T) {
	dir := newCLI(t)
	empty := filepath.Join(dir, "empty.tsv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, err error)
	}{
		{
			name:  "unknown record",
			args:  []string{"get-latest", "agents", "gnd", "nope"},
			check: func(t *testing.T, err error) { assert.True(t, mefErrors.IsNotFound(err)) },
		},
		{
			name:  "unknown kind",
			args:  []string{"resolve", "works", "1"},
			check: func(t *testing.T, err error) { assert.ErrorContains(t, err, "unknown entity kind") },
		},
		{
			name:  "migrate needs postgres",
			args:  []string{"migrate"},
			check: func(t *testing.T, err error) { assert.True(t, mefErrors.IsMisconfiguration(err)) },
		},
		{
			name:  "queued harvest needs kafka",
			args:  []string{"harvest", "--queue", "gnd", "agents"},
			check: func(t *testing.T, err error) { assert.True(t, mefErrors.IsMisconfiguration(err)) },
		},
		{
			name:  "queued viaf rows need kafka",
			args:  []string{"viaf", "load", "--queue", "--format", "links", empty},
			check: func(t *testing.T, err error) { assert.True(t, mefErrors.IsMisconfiguration(err)) },
		},
		{
			name:  "unknown viaf format",
			args:  []string{"viaf", "load", "--format", "xml", empty},
			check: func(t *testing.T, err error) { assert.ErrorContains(t, err, "unknown VIAF format") },
		},
		{
			name:  "bad date",
			args:  []string{"harvest", "--from", "yesterday", "gnd", "agents"},
			check: func(t *testing.T, err error) { assert.ErrorContains(t, err, "invalid time") },
		},
		{
			name:  "harvest arguments",
			args:  []string{"harvest", "gnd"},
			check: func(t *testing.T, err error) { assert.Error(t, err) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"2024-03-01", "2024-03-01T00:00:00Z"},
		{"2024-03-01T10:00:00+02:00", "2024-03-01T08:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got.Format("2006-01-02T15:04:05Z07:00"))
		})
	}
}
