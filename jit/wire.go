package jit

import (
	"fmt"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// fixupFileVersion is bumped whenever the on-disk layout changes.
const fixupFileVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("jit: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type fixupEntry struct {
	TCA   TCA   `cbor:"1,keyasint"`
	Fixup Fixup `cbor:"2,keyasint"`
}

type fixupFile struct {
	Version int          `cbor:"1,keyasint"`
	Entries []fixupEntry `cbor:"2,keyasint"`
}

// MarshalFixupMap serializes m to CBOR. Entries are sorted by address so the
// encoding is deterministic.
func MarshalFixupMap(m *FixupMap) ([]byte, error) {
	f := fixupFile{Version: fixupFileVersion, Entries: make([]fixupEntry, 0, m.Len())}
	for tca, fx := range m.fixups {
		f.Entries = append(f.Entries, fixupEntry{TCA: tca, Fixup: fx})
	}
	sort.Slice(f.Entries, func(i, j int) bool { return f.Entries[i].TCA < f.Entries[j].TCA })
	return cborEncMode.Marshal(&f)
}

// UnmarshalFixupMap deserializes a map written by MarshalFixupMap.
func UnmarshalFixupMap(data []byte) (*FixupMap, error) {
	var f fixupFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("jit: unmarshal fixup map: %w", err)
	}
	if f.Version != fixupFileVersion {
		return nil, fmt.Errorf("jit: fixup map version %d, want %d", f.Version, fixupFileVersion)
	}
	m := NewFixupMap()
	for _, e := range f.Entries {
		m.Record(e.TCA, e.Fixup)
	}
	return m, nil
}

// SaveFixupMap writes m to path. counters may be nil.
func SaveFixupMap(path string, m *FixupMap, counters *Counters) error {
	t := counters.Start(TimerFixupSave)
	defer t.Stop()

	data, err := MarshalFixupMap(m)
	if err != nil {
		return fmt.Errorf("jit: marshal fixup map: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("jit: cannot write %s: %w", path, err)
	}
	return nil
}

// LoadFixupMap reads a map from path. counters may be nil.
func LoadFixupMap(path string, counters *Counters) (*FixupMap, error) {
	t := counters.Start(TimerFixupLoad)
	defer t.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jit: cannot read %s: %w", path, err)
	}
	m, err := UnmarshalFixupMap(data)
	if err != nil {
		return nil, fmt.Errorf("jit: %s: %w", path, err)
	}
	log.Infof("loaded %d fixups from %s", m.Len(), path)
	return m, nil
}
