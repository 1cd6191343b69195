package types

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is the UUID value used for every entity identifier. The zero
// value serializes as NULL.
type ID string

// NewID generates a random ID
func NewID() ID {
	return ID(uuid.New().String())
}

// NewDeterministicID derives the v5 ID for a namespace and name; the
// same inputs always yield the same ID. Used for well-known fixed
// identities.
func NewDeterministicID(namespace, name string) ID {
	return ID(uuid.NewSHA1(uuid.NameSpaceDNS, []byte(namespace+":"+name)).String())
}

// ParseID parses a string into an ID
func ParseID(s string) (ID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid ID: %w", err)
	}
	return ID(s), nil
}

// MustParseID parses a string into an ID, panics on error
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsZero checks if the ID is empty
func (id ID) IsZero() bool {
	return id == ""
}

// Value implements driver.Valuer for database serialization
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return string(id), nil
}

// Scan implements sql.Scanner for database deserialization
func (id *ID) Scan(value interface{}) error {
	if value == nil {
		*id = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*id = ID(v)
	case []byte:
		*id = ID(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ID", value)
	}
	return nil
}
