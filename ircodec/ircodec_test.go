package ircodec_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hcit-labs/autoaircon/ircodec"
)

func writeConf(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
}

const sampleDevice = `{
  "dev_name": ["aircon", "ac1"],
  "format": "AEHA",
  "T": 425,
  "sym_tbl": {
    "-": [8, 4],
    "0": [1, 1],
    "1": [1, 3],
    "/": [1, 0]
  },
  "macro": {
    "[prefix]": "- ",
    "[suffix]": " /"
  },
  "buttons": {
    "on": ["[prefix] A3 [suffix]", 2],
    "off": "[prefix] (0b)0101 [suffix]"
  }
}`

func TestResolveExpandsHexAndRepeats(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "ac.irconf", sampleDevice)

	store := ircodec.NewStore()
	if err := store.Reload([]string{dir}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	vec, repeat, err := store.Resolve("aircon", "on")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if repeat != 2 {
		t.Errorf("expected repeat=2, got %d", repeat)
	}
	// "- A3 /" -> leader, hex A=1010, hex 3=0011, trailer
	// symbols: '-', '1','0','1','0','0','0','1','1', '/'
	if len(vec) != 10 {
		t.Fatalf("expected 10 pulse/space pairs, got %d: %+v", len(vec), vec)
	}
	if vec[0].PulseUS != 8*425 || vec[0].SpaceUS != 4*425 {
		t.Errorf("leader symbol not scaled by T: %+v", vec[0])
	}
}

func TestResolveAliasedDeviceName(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "ac.irconf", sampleDevice)

	store := ircodec.NewStore()
	if err := store.Reload([]string{dir}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if _, _, err := store.Resolve("ac1", "off"); err != nil {
		t.Errorf("expected aliased name ac1 to resolve, got %v", err)
	}
}

func TestResolveUnknownDevice(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "ac.irconf", sampleDevice)

	store := ircodec.NewStore()
	if err := store.Reload([]string{dir}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	_, _, err := store.Resolve("nonexistent", "on")
	if !errors.Is(err, ircodec.ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestReloadKeepsPreviousStoreOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "ac.irconf", sampleDevice)

	store := ircodec.NewStore()
	if err := store.Reload([]string{dir}); err != nil {
		t.Fatalf("first reload: %v", err)
	}

	writeConf(t, dir, "broken.irconf", "{not valid json")
	if err := store.Reload([]string{dir}); err == nil {
		t.Fatalf("expected reload to fail on malformed file")
	}

	// previous store must still resolve
	if _, _, err := store.Resolve("aircon", "on"); err != nil {
		t.Errorf("expected previous store to remain active, got %v", err)
	}
}

func TestResolveInvalidMacroLeftover(t *testing.T) {
	dir := t.TempDir()
	dev := map[string]interface{}{
		"dev_name": []string{"dev"},
		"T":        100,
		"sym_tbl": map[string][2]int{
			"-": {1, 1},
		},
		"macro": map[string]string{},
		"buttons": map[string]interface{}{
			"b": "[missing]",
		},
	}
	b, _ := json.Marshal(dev)
	writeConf(t, dir, "dev.irconf", string(b))

	store := ircodec.NewStore()
	if err := store.Reload([]string{dir}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	_, _, err := store.Resolve("dev", "b")
	if !errors.Is(err, ircodec.ErrInvalidMacro) {
		t.Errorf("expected ErrInvalidMacro, got %v", err)
	}
}
