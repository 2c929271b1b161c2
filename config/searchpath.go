/*Package config locates and loads the process's three on-disk config
surfaces: the INI-style runtime config, the PID parameter JSON file, and
the ".irconf" device definitions (search path only -- ircodec.Store owns
device-record parsing). All three share the same first-match-wins search
over a short directory list, matching AutoAirconServer.py's
find_conf/PIDParam.find.
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDirs is the directory search order for the runtime config and
// PID parameter files: current directory, the user's home, then /etc.
func DefaultDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dirs = append(dirs, home)
	}
	return append(dirs, "/etc")
}

// ConfNames are the candidate filenames for the INI runtime config,
// searched in this order within each DefaultDirs entry.
var ConfNames = []string{"autoaircon.conf", ".autoaircon.conf", ".autoaircon"}

// ParamNames are the candidate filenames for the PID parameter file.
var ParamNames = []string{
	"autoaircon-param.json", ".autoaircon-param.json",
	"autoaircon-param", ".autoaircon-param",
}

// Find returns the first readable dir/name combination, checking every
// name within a directory before moving to the next directory (so a
// config.conf in "." always wins over one in $HOME). Returns
// os.ErrNotExist if nothing matched.
func Find(dirs, names []string) (string, error) {
	for _, d := range dirs {
		for _, n := range names {
			path := filepath.Join(d, n)
			if isReadable(path) {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("config: no candidate found in %v for names %v: %w", dirs, names, os.ErrNotExist)
}

func isReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
