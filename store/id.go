package store

import (
	"fmt"
	"strconv"
)

// ID is a record identifier.
type ID uint64

// String returns the canonical decimal form.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses the canonical decimal form of an identifier: ASCII digits
// only, no sign, no leading zeros, and within uint64 range.
func ParseID(s string) (ID, error) {
	if s == "" || len(s) > 20 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	if s[0] == '0' && len(s) > 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(n), nil
}

// ValidID reports whether s is a canonical identifier.
func ValidID(s string) bool {
	_, err := ParseID(s)
	return err == nil
}

func checkID(id string) error {
	_, err := ParseID(id)
	return err
}
