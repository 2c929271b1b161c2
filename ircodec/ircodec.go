/*Package ircodec resolves (device, button) pairs into IR pulse/space
vectors, driven by device definitions loaded from ".irconf" JSON files.

A Store holds the currently active set of device definitions behind an
atomic pointer; Reload rebuilds the whole set from the configured search
directories and only swaps the pointer in on success, so a broken config
file never tears down an already-running controller.
*/
package ircodec

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/snksoft/crc"

	"github.com/hcit-labs/autoaircon/util"
)

// HeaderBin is the literal prefix marking an explicit binary block in a
// button template, e.g. "(0b)0101".
const HeaderBin = "(0b)"

// Suffix is the file suffix searched for under each config directory.
const Suffix = ".irconf"

var crcTable = crc.NewTable(crc.XMODEM)

var (
	// ErrUnknownDevice is returned when no loaded device record lists the
	// requested name.
	ErrUnknownDevice = errors.New("ircodec: unknown device")

	// ErrUnknownButton is returned when the device has no matching button.
	ErrUnknownButton = errors.New("ircodec: unknown button")

	// ErrInvalidMacro is returned when macro expansion leaves an
	// unresolved "[" or "]" in the template string.
	ErrInvalidMacro = errors.New("ircodec: invalid macro, unresolved placeholder")

	// ErrNoStore is returned by Resolve before any successful Reload.
	ErrNoStore = errors.New("ircodec: no device store loaded")
)

// Symbol is a (pulse, space) pair expressed in device-period units; the
// actual microsecond lengths are Symbol[0]*T (pulse) and Symbol[1]*T (space).
type Symbol [2]int

// Pulse is one resolved (pulse, space) element of an emission vector, in
// microseconds.
type Pulse struct {
	PulseUS int
	SpaceUS int
}

// ButtonSpec is a button template: either a bare string, or a
// [string, repeat] pair in the source JSON.
type ButtonSpec struct {
	Template string
	Repeat   int // 0 means "unset, use device default"
}

// UnmarshalJSON accepts either a JSON string or a 2-element
// [string, number] array.
func (b *ButtonSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.Template = s
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("button spec must be a string or [string, int] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("button spec pair must have exactly 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &b.Template); err != nil {
		return fmt.Errorf("button spec template: %w", err)
	}
	if err := json.Unmarshal(pair[1], &b.Repeat); err != nil {
		return fmt.Errorf("button spec repeat: %w", err)
	}
	return nil
}

// stringList unmarshals either a bare string or a list of strings; used
// for dev_name, which may alias one device record to multiple names.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = stringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("dev_name must be a string or list of strings: %w", err)
	}
	*s = many
	return nil
}

// Device is one parsed ".irconf" record.
type Device struct {
	Comment   string            `json:"comment"`
	DevName   stringList        `json:"dev_name"`
	Format    string            `json:"format"`
	T         int               `json:"T"`
	SymTbl    map[string]Symbol `json:"sym_tbl"`
	Macro     map[string]string `json:"macro"`
	Buttons   map[string]ButtonSpec `json:"buttons"`
	DefRepeat int               `json:"def_repeat"`

	sourceFile string
}

// hasName reports whether dev_name lists name.
func (d Device) hasName(name string) bool {
	for _, n := range d.DevName {
		if n == name {
			return true
		}
	}
	return false
}

type storeData struct {
	devices []Device
}

// Store holds the active set of device definitions. The zero value is not
// usable; use NewStore.
type Store struct {
	ptr atomic.Pointer[storeData]
}

// NewStore returns an empty store; Resolve will fail with ErrNoStore until
// Reload succeeds at least once.
func NewStore() *Store {
	return &Store{}
}

// loadFile parses one ".irconf" file, which contains either a single
// device record or a JSON array of them.
func loadFile(path string) ([]Device, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ircodec: read %s: %w", path, err)
	}

	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, b)
	log.Printf("ircodec: loaded %s (%d bytes, crc16/xmodem=%04x)", path, len(b), crcTable.CRC16(crcUint))

	var devices []Device
	if err := json.Unmarshal(b, &devices); err == nil {
		for i := range devices {
			devices[i].sourceFile = path
		}
		return devices, nil
	}

	var one Device
	if err := json.Unmarshal(b, &one); err != nil {
		return nil, fmt.Errorf("ircodec: parse %s: %w", path, err)
	}
	one.sourceFile = path
	return []Device{one}, nil
}

// LoadAll globs "*.irconf" under each directory in dirs and parses every
// match, returning the combined device list. A missing directory is
// skipped, not an error; a malformed file is.
func LoadAll(dirs []string) ([]Device, error) {
	var all []Device
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+Suffix))
		if err != nil {
			return nil, fmt.Errorf("ircodec: glob %s: %w", dir, err)
		}
		for _, m := range matches {
			devices, err := loadFile(m)
			if err != nil {
				return nil, err
			}
			all = append(all, devices...)
		}
	}
	return all, nil
}

// Reload rebuilds the store from dirs and swaps it in only if LoadAll
// succeeds; on failure the previously loaded store remains active.
func (s *Store) Reload(dirs []string) error {
	devices, err := LoadAll(dirs)
	if err != nil {
		return err
	}
	s.ptr.Store(&storeData{devices: devices})
	return nil
}

// findDevice scans every loaded record's dev_name list.
func (sd *storeData) findDevice(name string) (Device, bool) {
	for _, d := range sd.devices {
		if d.hasName(name) {
			return d, true
		}
	}
	return Device{}, false
}

// Resolve maps (dev, button) to a pulse/space vector plus a repeat count.
func (s *Store) Resolve(dev, button string) ([]Pulse, int, error) {
	sd := s.ptr.Load()
	if sd == nil {
		return nil, 0, ErrNoStore
	}
	d, ok := sd.findDevice(dev)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownDevice, dev)
	}
	spec, ok := d.Buttons[button]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s/%s", ErrUnknownButton, dev, button)
	}

	repeat := spec.Repeat
	if repeat == 0 {
		repeat = d.DefRepeat
	}
	if repeat == 0 {
		repeat = 1
	}

	sigStr, err := expandMacros(spec.Template, d.Macro)
	if err != nil {
		return nil, 0, fmt.Errorf("%s/%s: %w", dev, button, err)
	}

	sigStr = strings.Join(strings.Fields(sigStr), "") // collapse whitespace
	sigStr = collapseBinBoundaries(sigStr)

	expanded, err := expandSymbols(sigStr, d.SymTbl)
	if err != nil {
		return nil, 0, fmt.Errorf("%s/%s: %w", dev, button, err)
	}

	vec := make([]Pulse, 0, len(expanded))
	for _, ch := range expanded {
		sym, ok := d.SymTbl[string(ch)]
		if !ok {
			log.Printf("ircodec: %s/%s: unknown symbol %q, skipped", dev, button, ch)
			continue
		}
		vec = append(vec, Pulse{PulseUS: sym[0] * d.T, SpaceUS: sym[1] * d.T})
	}
	return vec, repeat, nil
}

// expandMacros substitutes every macro placeholder until none remain,
// bounded to avoid runaway expansion on a cyclic macro table.
func expandMacros(s string, macros map[string]string) (string, error) {
	for i := 0; i < 32; i++ {
		changed := false
		for name, expansion := range macros {
			if strings.Contains(s, name) {
				s = strings.ReplaceAll(s, name, expansion)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	if strings.ContainsAny(s, "[]") {
		return "", fmt.Errorf("%w: %q", ErrInvalidMacro, s)
	}
	return s, nil
}

// collapseBinBoundaries removes the (0b) header where it directly follows
// a preceding binary digit, e.g. "0(0b)10" -> "010".
func collapseBinBoundaries(s string) string {
	s = strings.ReplaceAll(s, "0"+HeaderBin, "0")
	s = strings.ReplaceAll(s, "1"+HeaderBin, "1")
	return s
}

// expandSymbols tokenizes s around the device's non-binary symbol
// characters, then expands each token into a flat string of single-char
// symbols: multi-char symbol keys pass through unchanged, "(0b)"-prefixed
// tokens pass through their binary digits unchanged, and everything else
// is treated as hex and expanded nibble by nibble, MSB first.
func expandSymbols(s string, symTbl map[string]Symbol) (string, error) {
	separators := make([]string, 0, len(symTbl))
	for ch := range symTbl {
		if ch == "0" || ch == "1" {
			continue
		}
		separators = append(separators, ch)
	}
	for _, sep := range separators {
		s = strings.ReplaceAll(s, sep, " "+sep+" ")
	}
	tokens := strings.Fields(s)

	var sb strings.Builder
	for _, tok := range tokens {
		if _, ok := symTbl[tok]; ok && tok != "0" && tok != "1" {
			sb.WriteString(tok)
			continue
		}
		if strings.HasPrefix(tok, HeaderBin) {
			sb.WriteString(strings.TrimPrefix(tok, HeaderBin))
			continue
		}
		for _, ch := range tok {
			bin, err := util.HexNibbleToBin(byte(ch))
			if err != nil {
				return "", fmt.Errorf("ircodec: %q is not a hex digit or known symbol: %w", ch, err)
			}
			sb.WriteString(bin)
		}
	}
	return sb.String(), nil
}
