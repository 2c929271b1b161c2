package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the runtime INI configuration (§ external interfaces):
// broker connection info, the aircon device's button naming, the status
// sink address, and the command server's listen port.
type Config struct {
	IR struct {
		// Host names the periph.io GPIO pin the IR LED is wired to (e.g.
		// "GPIO22"), resolved via gpioreg.ByName. Named Host for fidelity
		// with §6's literal [ir] schema, which predates this redesign's
		// direct-GPIO emission (the original talked to a separate
		// network-addressed IR server process).
		Host string
	}
	Aircon struct {
		DevName      string
		ButtonHeader string
		IntervalMin  float64
	}
	Param struct {
		Host string
		Port int
	}
	Temp struct {
		Topic string
		Token string
	}
	AutoAircon struct {
		Port int
	}
}

// Defaults returns the configuration used when no config file is found
// or a key is absent from the one that was, mirroring
// AutoAirconCmd.DEF_PORT / PIDParam.DEF_PARAM's fallback values.
func Defaults() Config {
	var c Config
	c.AutoAircon.Port = 51002
	c.Param.Port = 51888
	c.Param.Host = "localhost"
	c.Aircon.ButtonHeader = "on_hot_auto_"
	c.Aircon.IntervalMin = 40
	c.IR.Host = "GPIO22"
	return c
}

// LoadConfig searches dirs for the first readable candidate in ConfNames
// and parses it over Defaults(). A missing file is not an error -- the
// process runs on defaults, same as AutoAirconCmd falling back to its
// class constants when find_conf returns nothing to load.
func LoadConfig(dirs []string) (Config, string, error) {
	cfg := Defaults()
	path, err := Find(dirs, ConfNames)
	if err != nil {
		return cfg, "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, path, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := parseINI(f, &cfg); err != nil {
		return cfg, path, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, path, nil
}

// parseINI is a minimal "[section]\nkey = value" reader: no quoting,
// continuation lines, or interpolation, since the only documents it
// ever needs to read are the ones this package writes by hand.
func parseINI(f *os.File, cfg *Config) error {
	scanner := bufio.NewScanner(f)
	section := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("config: malformed line %q", line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if err := assign(cfg, section, key, val); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func assign(cfg *Config, section, key, val string) error {
	switch section {
	case "ir":
		if key == "host" {
			cfg.IR.Host = val
		}
	case "aircon":
		switch key {
		case "dev_name":
			cfg.Aircon.DevName = val
		case "button_header":
			cfg.Aircon.ButtonHeader = val
		case "interval_min":
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("aircon.interval_min: %w", err)
			}
			cfg.Aircon.IntervalMin = v
		}
	case "param":
		switch key {
		case "host":
			cfg.Param.Host = val
		case "port":
			v, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("param.port: %w", err)
			}
			cfg.Param.Port = v
		}
	case "temp":
		switch key {
		case "topic":
			cfg.Temp.Topic = val
		case "token":
			cfg.Temp.Token = val
		}
	case "auto_aircon":
		if key == "port" {
			v, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("auto_aircon.port: %w", err)
			}
			cfg.AutoAircon.Port = v
		}
	default:
		return fmt.Errorf("config: unknown section %q", section)
	}
	return nil
}
