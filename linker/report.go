package linker

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Kinds of imported module.
const (
	KindBytecode = "bytecode"
	KindPlugin   = "plugin"
	KindMissing  = "missing"
)

// Link statuses of one import.
const (
	StatusLinked  = "linked"  // bytecode copied or plugin registered
	StatusUnused  = "unused"  // found, but nothing was referenced
	StatusSkipped = "skipped" // recoverable error, import unavailable
	StatusMissing = "missing" // no plugin manifest or module file
)

// Report summarizes one link step. It is written next to the output as
// canonical CBOR so repeated builds of the same input compare equal.
type Report struct {
	Target  string         `cbor:"1,keyasint"`
	Modules []ModuleReport `cbor:"2,keyasint"`
}

// ModuleReport records what happened to one imported module.
type ModuleReport struct {
	Name        string   `cbor:"1,keyasint"`
	Path        string   `cbor:"2,keyasint,omitempty"`
	Kind        string   `cbor:"3,keyasint"`
	Status      string   `cbor:"4,keyasint"`
	Linked      []string `cbor:"5,keyasint,omitempty"`
	Dropped     []string `cbor:"6,keyasint,omitempty"`
	BytesCopied uint64   `cbor:"7,keyasint"`
	Message     string   `cbor:"8,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("linker: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Module returns the report entry for name.
func (r *Report) Module(name string) (ModuleReport, bool) {
	for _, m := range r.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return ModuleReport{}, false
}

// TotalBytes returns the number of code bytes copied from all modules.
func (r *Report) TotalBytes() uint64 {
	var n uint64
	for _, m := range r.Modules {
		n += m.BytesCopied
	}
	return n
}

// MarshalReport serializes a Report to CBOR bytes.
func MarshalReport(r *Report) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalReport deserializes a Report from CBOR bytes.
func UnmarshalReport(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("linker: unmarshal report: %w", err)
	}
	return &r, nil
}
