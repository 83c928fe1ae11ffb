// Package config loads the not-webusb demo's runtime configuration from a
// YAML file, modeled on nasa-jpl-golaborate's multiserver config loader:
// defaults come from Default() via koanf's structs provider, then an
// optional YAML file overlays on top.
package config

import (
	"fmt"
	"os"
	"strings"

	koanf "github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked for in the working directory
// when none is specified on the command line.
const DefaultFileName = "not-webusb.yml"

// Config is the demo binary's full set of tunables.
type Config struct {
	// VendorID and ProductID select the HID device the demo opens: the
	// first enumerated device matching both is used.
	VendorID  uint16
	ProductID uint16

	// Manufacturer and Product are the USB string descriptors.
	Manufacturer string
	Product      string

	// AllowedOrigins is a list of hex-encoded SHA-256 application
	// parameters permitted to tunnel data through the device. An empty
	// list means accept every origin.
	AllowedOrigins []string

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// HeartbeatIntervalMS is how often the demo logs a liveness line,
	// independent of Poll activity.
	HeartbeatIntervalMS int
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		VendorID:            0x1209, // pid.codes test VID
		ProductID:           0x0001,
		Manufacturer:        "not-webusb",
		Product:             "ROT13 Tunnel Demo",
		AllowedOrigins:      nil,
		LogLevel:            "info",
		HeartbeatIntervalMS: 2000,
	}
}

// Load reads path, overlaying it onto Default(). A missing file is not an
// error: the defaults are used as-is, matching multiserver's "who cares"
// tolerance for an absent config file.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: loading defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such file") {
			return Config{}, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return c, nil
}

// WriteDefault writes the default configuration to path in YAML form, for
// a user to subsequently edit.
func WriteDefault(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: creating %s: %w", path, err)
	}
	defer f.Close()
	return yamlv3.NewEncoder(f).Encode(Default())
}
