package main

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/postexperiment/internal/diagnostics"
	"github.com/banshee-data/postexperiment/internal/monitoring"
	"github.com/banshee-data/postexperiment/internal/testutil"
)

func setupRun(t *testing.T) string {
	t.Helper()
	monitoring.SetLogger(nil)
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	testutil.WriteFile(t, filepath.Join(data, "shot1_cam.png"), testutil.Spot{Width: 32, Height: 24, SigmaX: 3, SigmaY: 2, Peak: 200}.PNG(t))
	testutil.WriteFile(t, filepath.Join(data, "shot2_cam.png"), testutil.Spot{Width: 32, Height: 24, SigmaX: 4, SigmaY: 2, Peak: 200}.PNG(t))
	testutil.WriteFile(t, filepath.Join(data, "shot3_cam.png"), testutil.Spot{Width: 32, Height: 24, SigmaX: 5, SigmaY: 2, Peak: 200}.PNG(t))

	cfg := `data_dir: data
file_pattern: 'shot(\d+)_(\w+)\.png'
file_key_group: 2
fields:
  - {group: 1, name: shot, type: int}
id_fields:
  - {name: shot}
focus:
  - {key: focus, image: cam}
cache_path: cache/results.db
output_dir: out
workers: 2
`
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "postexperiment version "))
}

func TestRun_Usage(t *testing.T) {
	code, _, errOut := runCmd(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Usage: postexperiment")

	code, _, errOut = runCmd(t, "bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: bogus")

	code, out, _ := runCmd(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Commands:")
}

func TestRun_List(t *testing.T) {
	cfg := setupRun(t)
	code, out, errOut := runCmd(t, "list", "-config", cfg)
	require.Equal(t, 0, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ShotID(shot=1)\t<Shot (2 items):"), lines[0])
	assert.Contains(t, lines[3], "3 entries")
}

func TestRun_Eval(t *testing.T) {
	cfg := setupRun(t)

	code, out, errOut := runCmd(t, "eval", "-config", cfg, "-diag", "focus_sigma_x")
	require.Equal(t, 0, code, errOut)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)

	code, out, errOut = runCmd(t, "eval", "-config", cfg, "-diag", "focus_sigma_x", "-mean", "-workers", "1")
	require.Equal(t, 0, code, errOut)
	assert.NotContains(t, strings.TrimSpace(out), "\n")

	code, out, errOut = runCmd(t, "eval", "-config", cfg, "-diag", "focus_sigma_y", "-group", "shot")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "shot=2\t")

	code, _, errOut = runCmd(t, "eval", "-config", cfg)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "-diag is required")

	code, _, errOut = runCmd(t, "eval", "-config", cfg, "-diag", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown diagnostic")
}

func TestRun_EvalDefaultRegistry(t *testing.T) {
	cfg := setupRun(t)
	diagnostics.Default.Register("cam_total", diagnostics.Chain(diagnostics.LoadImage("cam"), diagnostics.Total()))

	code, out, errOut := runCmd(t, "eval", "-config", cfg, "-diag", "cam_total")
	require.Equal(t, 0, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ShotID(shot=1)\t"), lines[0])

	code, out, errOut = runCmd(t, "list", "-config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.NotEmpty(t, out)
	assert.Contains(t, diagnostics.Default.Names(), "focus_sigma_x", "focus diagnostics land in the default registry")
}

func TestRun_PlotAndCache(t *testing.T) {
	cfg := setupRun(t)
	dir := filepath.Dir(cfg)

	code, out, errOut := runCmd(t, "plot", "-config", cfg, "-diag", "focus")
	require.Equal(t, 0, code, errOut)
	pngPath := filepath.Join(dir, "out", "focus.png")
	assert.Contains(t, out, pngPath)
	data, err := os.ReadFile(pngPath)
	require.NoError(t, err)
	_, err = png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)

	htmlPath := filepath.Join(dir, "sigma.html")
	code, _, errOut = runCmd(t, "plot", "-config", cfg, "-diag", "focus_sigma_x", "-out", htmlPath)
	require.Equal(t, 0, code, errOut)
	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "focus_sigma_x")

	code, _, errOut = runCmd(t, "plot", "-config", cfg, "-diag", "focus_sigma_x")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not a field")

	code, out, errOut = runCmd(t, "cache", "-config", cfg, "stats")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `<Cache of "focus_sigma_x" (3 entries`)

	code, out, errOut = runCmd(t, "cache", "-config", cfg, "gc")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `<Cache of "focus" (3 entries`)

	code, _, _ = runCmd(t, "cache", "-config", cfg, "purge")
	assert.Equal(t, 2, code)
}
