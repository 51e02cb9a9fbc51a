package event

import (
	"fmt"
	"strings"
)

// Kind identifies what an event records about its aggregate.
type Kind uint8

const (
	// KindCreated records the creation of an aggregate. It is always the first
	// event of a stream.
	KindCreated Kind = iota + 1
	// KindChanged records attribute deltas.
	KindChanged
	// KindDeleted records removal of an aggregate.
	KindDeleted
)

var kindNames = map[Kind]string{
	KindCreated: "CREATED",
	KindChanged: "CHANGED",
	KindDeleted: "DELETED",
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindCreated, KindChanged, KindDeleted}
}

// Valid reports whether k is a declared kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// String returns the stored name of k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a stored name back to its kind.
func ParseKind(value string) (Kind, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for kind, name := range kindNames {
		if name == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", value)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
