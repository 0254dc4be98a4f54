package mapping

import (
	"bytes"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadRuleTable reads a YAML rule table from path and compiles it.
func LoadRuleTable(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: read rule table %s", path)
	}
	table, err := ParseRuleTable(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: load rule table %s", path)
	}
	return Compile(table)
}

// ParseRuleTable decodes a YAML rule table. Unknown fields are rejected.
func ParseRuleTable(r io.Reader) (RuleTable, error) {
	var table RuleTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&table); err != nil {
		return RuleTable{}, eris.Wrap(err, "mapping: decode rule table")
	}
	return table, nil
}

// WriteRuleTable encodes the table as YAML.
func WriteRuleTable(w io.Writer, table RuleTable) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(table); err != nil {
		return eris.Wrap(err, "mapping: encode rule table")
	}
	return eris.Wrap(enc.Close(), "mapping: flush rule table")
}
