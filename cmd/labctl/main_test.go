package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/aplab/internal/store"
)

var fixtures = map[string]string{
	store.CameraFile: "ZWO ASI294MC Pro,CMOS,color,4.63,4144,2822,0.75,64,16383,3.9;1.0;0.3,7.3;3.2;1.8,63700;16300;4900,\n",
	store.TelescopeFile: "RedCat 51,51,250\n",
	store.LocationFile:  "Greenwich,51.4769,0,45\n",
	store.ObjectFile: "M31,Andromeda Galaxy,galaxy,00:42:44.3,+41:16:09,3.4,190,60\n" +
		"M42,Orion Nebula,nebula,05:35:17.3,-05:23:28,4.0,85,60\n",
	store.PresetFile: "Andromeda,ZWO ASI294MC Pro,0,120,10,70,600,900\n",
}

func dataDir(t *testing.T) string {
	t.Helper()
	t.Setenv("APLAB_CONFIG", "")
	dir := t.TempDir()
	for name, content := range fixtures {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--data", dir}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	err := cmd.Execute()
	return out.String(), err
}

func TestList(t *testing.T) {
	dir := dataDir(t)

	out, err := run(t, dir, "list", "objects")
	require.NoError(t, err)
	assert.Contains(t, out, "M31")
	assert.Contains(t, out, "05h35m17.3s")

	out, err = run(t, dir, "list", "telescopes", "--json")
	require.NoError(t, err)
	var tels []store.Telescope
	require.NoError(t, json.Unmarshal([]byte(out), &tels))
	assert.Equal(t, []store.Telescope{{Name: "RedCat 51", ApertureMM: 51, FocalLengthMM: 250}}, tels)

	_, err = run(t, dir, "list", "comets")
	assert.Error(t, err)
}

func TestCalcFromPreset(t *testing.T) {
	dir := dataDir(t)

	out, err := run(t, dir, "calc", "--preset", "Andromeda")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 10, res["sub_count"])
	assert.InDelta(t, 530*3.9, res["sky_signal"], 1e-9)

	_, err = run(t, dir, "calc", "--preset", "Andromeda", "--gain-index", "7")
	assert.Error(t, err)
	_, err = run(t, dir, "calc", "--preset", "nope")
	assert.Error(t, err)
}

func TestFOV(t *testing.T) {
	dir := dataDir(t)

	out, err := run(t, dir, "fov", "--camera", "zwo asi294mc pro", "--telescope", "RedCat 51", "--seeing", "2")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDelta(t, 206.265*4.63/250, res["pixel_scale_arcsec"], 1e-9)
	assert.NotEmpty(t, res["sampling_verdict"])

	_, err = run(t, dir, "fov", "--camera", "ZWO ASI294MC Pro")
	assert.Error(t, err, "telescope is required")
}

func TestObjectCommands(t *testing.T) {
	dir := dataDir(t)

	out, err := run(t, dir, "object", "position", "andromeda galaxy", "--time", "2026-01-15T22:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "M31")
	assert.Contains(t, out, "Greenwich")

	out, err = run(t, dir, "object", "events", "M31", "M42", "--date", "2026-01-15")
	require.NoError(t, err)
	assert.Contains(t, out, "up all night", "M31 is circumpolar from Greenwich")
	assert.Contains(t, out, "M42")

	_, err = run(t, dir, "object", "events", "M99")
	assert.Error(t, err)
}

func TestPlots(t *testing.T) {
	dir := dataDir(t)
	out := t.TempDir()

	alt := filepath.Join(out, "alt.png")
	_, err := run(t, dir, "altitude", "M31", "M42", "--date", "2026-01-15", "-o", alt)
	require.NoError(t, err)
	assertPNG(t, alt)

	_, err = run(t, dir, "altitude", "M31", "--step", "10s", "-o", alt)
	assert.Error(t, err)

	req := filepath.Join(out, "synth.json")
	require.NoError(t, os.WriteFile(req, []byte(`{"sim": {"exposure_s": 60, "sub_count": 4, "read_noise": 2,
		"dark_current": 0.1, "sky_flux": 2, "target_flux": 20, "sat_cap": 50000},
		"width": 32, "height": 32, "seed": 3}`), 0o644))
	synthOut := filepath.Join(out, "synth.png")
	_, err = run(t, dir, "synth", "-f", req, "-o", synthOut)
	require.NoError(t, err)
	assertPNG(t, synthOut)

	req = filepath.Join(out, "sweep.json")
	require.NoError(t, os.WriteFile(req, []byte(`{"mode": "sim", "sim": {"exposure_s": 10, "read_noise": 2,
		"dark_current": 1, "sky_flux": 8.6, "target_flux": 10, "sat_cap": 4095},
		"variable": "exposure", "from": 10, "to": 300, "points": 20, "output": "snr"}`), 0o644))
	sweepOut := filepath.Join(out, "sweep.png")
	_, err = run(t, dir, "sweep", "-f", req, "-o", sweepOut)
	require.NoError(t, err)
	assertPNG(t, sweepOut)
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func writeFlat(t *testing.T, path string, v uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray16(x, y, color.Gray16{Y: v})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestAnalyze(t *testing.T) {
	dir := dataDir(t)
	frames := t.TempDir()
	bias, light := filepath.Join(frames, "bias.png"), filepath.Join(frames, "light.png")
	writeFlat(t, bias, 100)
	writeFlat(t, light, 500)

	out, err := run(t, dir, "analyze", "--bias1", bias, "--light", light, "--gain", "2", "--light-exposure", "100")
	require.NoError(t, err)
	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.InDelta(t, 8, rep["sky_flux"], 1e-9)

	_, err = run(t, dir, "analyze")
	assert.Error(t, err, "no frames")
}

func TestSolveRejectsHalfHint(t *testing.T) {
	dir := dataDir(t)
	t.Setenv("APLAB_SOLVER_WORK_DIR", t.TempDir())
	img := filepath.Join(t.TempDir(), "field.png")
	writeFlat(t, img, 1000)

	_, err := run(t, dir, "solve", img, "--ra", "5.5")
	assert.ErrorContains(t, err, "ra and dec")
}
