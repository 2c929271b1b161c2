package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	gojson "encoding/json"

	"github.com/hcit-labs/autoaircon/pid"
)

// ParamFile is the on-disk shape of the PID parameter file, matching
// PIDParam.DEF_PARAM's key set.
type ParamFile struct {
	Kp          float64 `koanf:"kp" json:"kp"`
	Ki          float64 `koanf:"ki" json:"ki"`
	Kd          float64 `koanf:"kd" json:"kd"`
	KiIMax      float64 `koanf:"ki_i_max" json:"ki_i_max"`
	IntervalMin int     `koanf:"interval_min" json:"interval_min"`
}

// LoadParams searches dirs for the first readable candidate in
// ParamNames and loads it over gains-shaped defaults via koanf, the way
// cmd/multiserver's setupconfig layers a file.Provider over a
// structs.Provider default. A missing file is not an error; it yields
// the zero ParamFile, matching PIDParam.DEF_PARAM's all-zero defaults.
func LoadParams(dirs []string) (ParamFile, string, error) {
	path, err := Find(dirs, ParamNames)
	if err != nil {
		return ParamFile{}, "", nil
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(ParamFile{}, "koanf"), nil); err != nil {
		return ParamFile{}, path, fmt.Errorf("config: default params: %w", err)
	}
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return ParamFile{}, path, fmt.Errorf("config: load %s: %w", path, err)
	}

	var p ParamFile
	if err := k.Unmarshal("", &p); err != nil {
		return ParamFile{}, path, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return p, path, nil
}

// FileParamStore implements control.ParamStore by persisting gains to
// the PID parameter file via write-then-rename, so a crash mid-save
// never leaves a truncated or half-written file behind -- matching
// PIDParam.save's intent, hardened the way the teacher's config/device
// files are written atomically elsewhere in the pack.
type FileParamStore struct {
	path        string
	intervalMin int // preserved across Save calls; interval_min has its own command path
}

// NewFileParamStore returns a store writing to path, preserving
// loaded.IntervalMin on every Save (interval_min is not part of
// pid.Gains -- aircon.Gate owns it directly). If path is empty (no
// existing param file was found at startup), Save creates one at the
// first entry of dirs/ParamNames[0].
func NewFileParamStore(path string, dirs []string, loaded ParamFile) *FileParamStore {
	if path == "" {
		path = filepath.Join(firstOrDot(dirs), ParamNames[0])
	}
	return &FileParamStore{path: path, intervalMin: loaded.IntervalMin}
}

func firstOrDot(dirs []string) string {
	if len(dirs) == 0 {
		return "."
	}
	return dirs[0]
}

// Save persists g to the store's path via a temp file in the same
// directory followed by an atomic rename.
func (s *FileParamStore) Save(g pid.Gains) error {
	pf := ParamFile{
		Kp:          g.Kp,
		Ki:          g.Ki,
		Kd:          g.Kd,
		KiIMax:      g.KiIMax,
		IntervalMin: s.intervalMin,
	}
	b, err := gojson.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal params: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".autoaircon-param-*.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp param file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write temp param file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close temp param file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename %s: %w", s.path, err)
	}
	return nil
}
