package lists

import (
	"fmt"

	"github.com/buger/jsonparser"
)

// DocumentVersion returns the top-level integer "version" field of a JSON
// document without decoding the rest of it. A document naming the field more
// than once is rejected: decoders disagree on which duplicate wins.
func DocumentVersion(doc []byte) (int64, error) {
	var (
		raw   []byte
		typ   jsonparser.ValueType
		count int
	)
	err := jsonparser.ObjectEach(doc, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		if string(key) == "version" {
			raw, typ = value, dataType
			count++
		}
		return nil
	})
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	case count == 0:
		return 0, fmt.Errorf("%w: %v", ErrInvalidVersion, jsonparser.KeyPathNotFoundError)
	case count > 1:
		return 0, fmt.Errorf("%w: %d version fields", ErrInvalidVersion, count)
	case typ != jsonparser.Number:
		return 0, fmt.Errorf("%w: version is a %v", ErrInvalidVersion, typ)
	}
	v, err := jsonparser.ParseInt(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	return v, nil
}
