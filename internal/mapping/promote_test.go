package mapping

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-core/internal/model"
)

func TestPromote(t *testing.T) {
	base := DefaultRuleTable()
	next, err := Promote(base, "Debtors ", "trade_receivables", "rules/v2")
	require.NoError(t, err)

	assert.Equal(t, "rules/v2", next.Version)
	assert.Equal(t, DefaultVersion, base.Version)

	oldEngine := MustCompile(base)
	newEngine := MustCompile(next)
	assert.Equal(t, model.MethodUnmapped, oldEngine.Map("Debtors", Context{}).Method)

	got := newEngine.Map("debtors", Context{})
	assert.Equal(t, "trade_receivables", got.CanonicalKey)
	assert.Equal(t, model.MethodRule, got.Method)
	assert.Len(t, next.Exact, len(base.Exact), "joins the existing rule for the key")
}

func TestPromote_NewKey(t *testing.T) {
	next, err := Promote(DefaultRuleTable(), "Contract assets", "contract_assets", "rules/v2")
	require.NoError(t, err)
	last := next.Exact[len(next.Exact)-1]
	assert.Equal(t, "contract_assets", last.CanonicalKey)
	assert.Equal(t, []string{"contract assets"}, last.Synonyms)
}

func TestPromote_Errors(t *testing.T) {
	base := DefaultRuleTable()

	_, err := Promote(base, "Debtors", "trade_receivables", DefaultVersion)
	assert.Error(t, err)

	_, err = Promote(base, "Debtors", "trade_receivables", "")
	assert.Error(t, err)

	_, err = Promote(base, "Revenue", "cash", "rules/v2")
	assert.Error(t, err, "synonym already owned by another rule")

	_, err = Promote(base, "Revenue", "revenue", "rules/v2")
	assert.Error(t, err, "already an exact synonym")

	_, err = Promote(base, "Debtors", "Trade Receivables", "rules/v2")
	assert.Error(t, err)
}

func TestLoadRuleTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := `version: rules/custom
exact:
  - synonyms: ["Debtors", "Trade debtors"]
    canonical_key: trade_receivables
  - synonyms: ["Cost of sales"]
    canonical_key: cost_of_sales
    expense: true
patterns:
  - pattern: "lease liabilit"
    canonical_key: lease_liabilities
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	e, err := LoadRuleTable(path)
	require.NoError(t, err)
	assert.Equal(t, "rules/custom", e.Version())
	assert.Equal(t, "trade_receivables", e.Map("Trade Debtors", Context{}).CanonicalKey)
	assert.Equal(t, model.MethodRegex, e.Map("Lease liabilities - current", Context{}).Method)
}

func TestLoadRuleTable_Errors(t *testing.T) {
	_, err := LoadRuleTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseRuleTable(strings.NewReader("version: v\nunknown_field: 1\n"))
	assert.Error(t, err)
}

func TestWriteRuleTable_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRuleTable(&buf, DefaultRuleTable()))

	table, err := ParseRuleTable(&buf)
	require.NoError(t, err)
	assert.Equal(t, DefaultRuleTable(), table)
}
