// Package config handles vmregs.toml thread configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/vmregs/segment"
	"github.com/chazu/vmregs/vm"
)

// FileName is the name of the configuration file.
const FileName = "vmregs.toml"

// Config represents a vmregs.toml configuration.
type Config struct {
	Guard   Guard          `toml:"guard"`
	Segment segment.Layout `toml:"segment"`
	Stack   Stack          `toml:"stack"`
	JIT     JIT            `toml:"jit"`
	Log     Log            `toml:"log"`

	// Dir is the directory containing the vmregs.toml file (set at load time).
	Dir string `toml:"-"`
}

// Guard configures the debug invalidity guard.
type Guard struct {
	// Enabled binds the mprotect protector. When false, guards still swap
	// segments and force registers dirty, but pages stay writable.
	Enabled bool `toml:"enabled"`
}

// Stack configures the operand stack address range.
type Stack struct {
	Base     uint64 `toml:"base"`
	Slots    int    `toml:"slots"`
	SlotSize int    `toml:"slot-size"`
}

// JIT configures the compiled-code side.
type JIT struct {
	Fixups string `toml:"fixups"` // CBOR fixup map to load, relative to Dir
	Timers bool   `toml:"timers"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{
		Guard: Guard{Enabled: true},
		JIT:   JIT{Timers: true},
	}
	c.fillDefaults()
	return c
}

func (c *Config) fillDefaults() {
	c.Segment = c.Segment.Normalize()
	if c.Stack.Base == 0 {
		c.Stack.Base = 0x100000
	}
	if c.Stack.Slots <= 0 {
		c.Stack.Slots = 4096
	}
	if c.Stack.SlotSize <= 0 {
		c.Stack.SlotSize = vm.DefaultSlotSize
	}
}

// Load parses a vmregs.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Config{
		Guard: Guard{Enabled: true},
		JIT:   JIT{Timers: true},
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	c.fillDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a vmregs.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// FixupsPath returns the absolute path of the fixup map, or "" if none is
// configured.
func (c *Config) FixupsPath() string {
	if c.JIT.Fixups == "" {
		return ""
	}
	if filepath.IsAbs(c.JIT.Fixups) {
		return c.JIT.Fixups
	}
	return filepath.Join(c.Dir, c.JIT.Fixups)
}

// Protector returns the page protector the guard settings call for.
func (c *Config) Protector() segment.Protector {
	if c.Guard.Enabled {
		return segment.Mprotect{}
	}
	return segment.Nop{}
}

// NewStack creates an operand stack with the configured range.
func (c *Config) NewStack() *vm.Stack {
	return vm.NewStack(vm.Addr(c.Stack.Base), c.Stack.Slots, c.Stack.SlotSize)
}
