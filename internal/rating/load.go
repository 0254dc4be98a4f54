package rating

import (
	"bytes"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadScheme reads a YAML scheme from path and validates it. A malformed
// scheme is a fatal configuration error.
func LoadScheme(path string) (Scheme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scheme{}, eris.Wrapf(err, "rating: read scheme %s", path)
	}
	return ParseScheme(data)
}

// ParseScheme decodes and validates a YAML scheme. Unknown fields are rejected.
func ParseScheme(data []byte) (Scheme, error) {
	var s Scheme
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Scheme{}, eris.Wrap(err, "rating: decode scheme")
	}
	if err := s.Validate(); err != nil {
		return Scheme{}, err
	}
	return s, nil
}
