package cmd

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// Config is the optional JSON configuration read with --config. Flags
// given on the command line take precedence.
type Config struct {
	Arch            string `json:"arch,omitempty" jsonschema:"title=Architecture,description=Instruction set of raw input,enum=x86,enum=arm"`
	Address         string `json:"address,omitempty" jsonschema:"title=Address,description=Virtual address of the first byte of raw input,example=0x8048000"`
	MaxInstructions int    `json:"maxInstructions,omitempty" jsonschema:"title=Max Instructions,description=Stop after this many native instructions (0 means no limit),minimum=0"`
	Native          bool   `json:"native,omitempty" jsonschema:"title=Native,description=Interleave native disassembly with the REIL listing"`
	Summary         bool   `json:"summary,omitempty" jsonschema:"title=Summary,description=Print an analysis report instead of the listing"`
	Debug           bool   `json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
	LogFile         string `json:"logFile,omitempty" jsonschema:"title=Log File,description=Write application logs to this file"`
	ProfilePath     string `json:"profilePath,omitempty" jsonschema:"title=Profile Path,description=Path for CPU profile output"`
}

// LoadConfig reads a JSON config file. Unknown fields are rejected.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var c Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if c.MaxInstructions < 0 {
		return nil, fmt.Errorf("config %s: maxInstructions must not be negative", path)
	}
	return &c, nil
}

// settings are the effective options of one invocation.
type settings struct {
	Config
	offset int
	length int
	one    bool
	json   bool
	noTUI  bool
	symbol string
}

// resolveSettings merges the config file with flags set on cmd.
func resolveSettings(cmd *cobra.Command) (*settings, error) {
	s := &settings{}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		c, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		s.Config = *c
	}

	flags := cmd.Flags()
	if flags.Changed("arch") {
		s.Arch, _ = flags.GetString("arch")
	}
	if flags.Changed("addr") {
		s.Address, _ = flags.GetString("addr")
	}
	if flags.Changed("max") {
		s.MaxInstructions, _ = flags.GetInt("max")
	}
	if flags.Changed("native") {
		s.Native, _ = flags.GetBool("native")
	}
	if flags.Changed("summary") {
		s.Summary, _ = flags.GetBool("summary")
	}
	if flags.Changed("debug") {
		s.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("log-file") {
		s.LogFile, _ = flags.GetString("log-file")
	}
	if flags.Changed("cpuprofile") {
		s.ProfilePath, _ = flags.GetString("cpuprofile")
	}
	s.one, _ = flags.GetBool("one")
	s.json, _ = flags.GetBool("json")
	// Flags that only exist on the root command read as zero elsewhere.
	s.offset, _ = flags.GetInt("offset")
	s.length, _ = flags.GetInt("length")
	s.noTUI, _ = flags.GetBool("no-tui")
	s.symbol, _ = flags.GetString("symbol")

	if s.MaxInstructions < 0 || s.offset < 0 || s.length < 0 {
		return nil, fmt.Errorf("--max, --offset and --length must not be negative")
	}
	return s, nil
}

// parseAddr parses a 32-bit address given in hex (with or without 0x)
// or, with a leading 0d, in decimal.
func parseAddr(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	base := 16
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
	case strings.HasPrefix(s, "0d"):
		s, base = s[2:], 10
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("address %#x does not fit in 32 bits", v)
	}
	return uint32(v), nil
}
