package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hcit-labs/autoaircon/pid"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestFindPrefersEarlierDirOverEarlierName(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeFile(t, b, "autoaircon.conf", "")
	writeFile(t, a, ".autoaircon", "")

	got, err := Find([]string{a, b}, ConfNames)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	want := filepath.Join(a, ".autoaircon")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestFindReturnsNotExistWhenNothingMatches(t *testing.T) {
	a := t.TempDir()
	if _, err := Find([]string{a}, ConfNames); !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}

func TestLoadConfigFallsBackToDefaultsWhenNoFileFound(t *testing.T) {
	a := t.TempDir()
	cfg, path, err := LoadConfig([]string{a})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
	if cfg.AutoAircon.Port != 51002 {
		t.Errorf("expected default port 51002, got %d", cfg.AutoAircon.Port)
	}
	if cfg.Aircon.ButtonHeader != "on_hot_auto_" {
		t.Errorf("expected default button header, got %q", cfg.Aircon.ButtonHeader)
	}
}

func TestLoadConfigParsesSectionsAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "autoaircon.conf", `
[ir]
host = ir.example.local

[aircon]
dev_name = living_room
button_header = btn_
interval_min = 30

[param]
host = sink.example.local
port = 9000

[temp]
topic = home/living_room/temp
token = secret

[auto_aircon]
port = 6000
`)

	cfg, path, err := LoadConfig([]string{dir})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if path == "" {
		t.Fatalf("expected a matched path")
	}
	if cfg.IR.Host != "ir.example.local" {
		t.Errorf("ir.host = %q", cfg.IR.Host)
	}
	if cfg.Aircon.DevName != "living_room" || cfg.Aircon.ButtonHeader != "btn_" || cfg.Aircon.IntervalMin != 30 {
		t.Errorf("aircon section = %+v", cfg.Aircon)
	}
	if cfg.Param.Host != "sink.example.local" || cfg.Param.Port != 9000 {
		t.Errorf("param section = %+v", cfg.Param)
	}
	if cfg.Temp.Topic != "home/living_room/temp" || cfg.Temp.Token != "secret" {
		t.Errorf("temp section = %+v", cfg.Temp)
	}
	if cfg.AutoAircon.Port != 6000 {
		t.Errorf("auto_aircon.port = %d", cfg.AutoAircon.Port)
	}
}

func TestLoadConfigRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "autoaircon.conf", "[ir]\nnot-a-key-value-line\n")
	if _, _, err := LoadConfig([]string{dir}); err == nil {
		t.Errorf("expected an error for a malformed line")
	}
}

func TestLoadParamsFallsBackToZeroValueWhenNoFileFound(t *testing.T) {
	a := t.TempDir()
	p, path, err := LoadParams([]string{a})
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
	if p != (ParamFile{}) {
		t.Errorf("expected zero-value ParamFile, got %+v", p)
	}
}

func TestLoadParamsReadsJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "autoaircon-param.json", `{"kp":1.5,"ki":0.02,"kd":120,"ki_i_max":4,"interval_min":50}`)

	p, path, err := LoadParams([]string{dir})
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	if path == "" {
		t.Fatalf("expected a matched path")
	}
	want := ParamFile{Kp: 1.5, Ki: 0.02, Kd: 120, KiIMax: 4, IntervalMin: 50}
	if p != want {
		t.Errorf("got %+v, want %+v", p, want)
	}
}

func TestFileParamStoreSaveWritesAtomicallyAndPreservesIntervalMin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autoaircon-param.json")

	store := NewFileParamStore(path, []string{dir}, ParamFile{IntervalMin: 45})
	if err := store.Save(pid.Gains{Kp: 2, Ki: 0.03, Kd: 150, KiIMax: 5}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, readPath, err := LoadParams([]string{dir})
	if err != nil {
		t.Fatalf("LoadParams after Save: %v", err)
	}
	if readPath != path {
		t.Fatalf("expected to read back %s, got %s", path, readPath)
	}
	want := ParamFile{Kp: 2, Ki: 0.03, Kd: 150, KiIMax: 5, IntervalMin: 45}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestFileParamStoreDefaultsPathWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	store := NewFileParamStore("", []string{dir}, ParamFile{})
	if err := store.Save(pid.Gains{Kp: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ParamNames[0])); err != nil {
		t.Errorf("expected param file at default path: %v", err)
	}
}

func TestIrconfDirsIncludesCurrentDirectory(t *testing.T) {
	dirs := IrconfDirs()
	if len(dirs) == 0 || dirs[0] != "." {
		t.Errorf("expected first entry to be \".\", got %v", dirs)
	}
}
