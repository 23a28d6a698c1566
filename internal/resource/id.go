package resource

import (
	"fmt"
	"log/slog"
	"sync"
)

var (
	// nextSerial provides the next serial number for each kind
	nextSerial map[Kind]uint64 = make(map[Kind]uint64)
	mu         sync.Mutex
)

// GlobalID is the zero value of ID, representing the ID of the abstract
// top-level "global" entity to which all resources belong.
var GlobalID = ID{}

// ID is an identifier based on an ever-increasing serial number, and a kind to
// differentiate it from other kinds of identifiers.
type ID struct {
	Serial uint64
	Kind   Kind
}

func NewID(kind Kind) ID {
	mu.Lock()
	defer mu.Unlock()

	serial := nextSerial[kind]
	nextSerial[kind]++

	return ID{
		Serial: serial,
		Kind:   kind,
	}
}

// String provides a human readable representation of the identifier.
func (id ID) String() string {
	return fmt.Sprintf("%s#%d", id.Kind, id.Serial)
}

func (id ID) LogValue() slog.Value {
	return slog.StringValue(id.String())
}
