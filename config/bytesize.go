package config

import (
	"strconv"
	"strings"

	"github.com/inhies/go-bytesize"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes, given in YAML as a plain integer or a string with a unit ("500GB")
type ByteSize int64

// ParseByteSize parses a plain integer or a size string
func ParseByteSize(value string) (ByteSize, error) {
	value = strings.TrimSpace(value)
	if len(value) == 0 {
		return 0, nil
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n < 0 {
			return 0, xerrors.Errorf("negative size %q", value)
		}
		return ByteSize(n), nil
	}

	size, err := bytesize.Parse(value)
	if err != nil {
		return 0, xerrors.Errorf("failed to parse size %q: %w", value, err)
	}

	if size < 0 {
		return 0, xerrors.Errorf("negative size %q", value)
	}
	return ByteSize(size), nil
}

// UnmarshalYAML parses the size
func (size *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return xerrors.Errorf("size must be a scalar at line %d", value.Line)
	}

	parsed, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}

	*size = parsed
	return nil
}

// MarshalYAML writes the size as a plain integer
func (size ByteSize) MarshalYAML() (interface{}, error) {
	return int64(size), nil
}

// String returns human readable form of the size
func (size ByteSize) String() string {
	return bytesize.New(float64(size)).String()
}
