package mapping

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-core/internal/model"
)

// Promote returns a new rule table version with rawLabel added as an exact
// synonym of canonicalKey. The synonym joins an existing exact rule for the
// key when one exists, otherwise a new rule is appended. The input table is
// never modified. The result is validated before it is returned.
func Promote(table RuleTable, rawLabel, canonicalKey, newVersion string) (RuleTable, error) {
	if strings.TrimSpace(newVersion) == "" {
		return RuleTable{}, eris.New("mapping: promote requires a new version")
	}
	if newVersion == table.Version {
		return RuleTable{}, eris.Errorf("mapping: version %q is already published", newVersion)
	}
	normalized := NormalizeLabel(rawLabel)
	if normalized == "" {
		return RuleTable{}, eris.New("mapping: promote requires a raw label")
	}

	current, err := Compile(table)
	if err != nil {
		return RuleTable{}, eris.Wrap(err, "mapping: promote from invalid table")
	}
	if res := current.Map(rawLabel, Context{}); res.Method == model.MethodRule && res.CanonicalKey == canonicalKey {
		return RuleTable{}, eris.Errorf("mapping: %q already maps to %s by exact rule", rawLabel, canonicalKey)
	}

	next := table.Clone()
	next.Version = newVersion
	added := false
	for i := range next.Exact {
		if next.Exact[i].CanonicalKey == canonicalKey {
			next.Exact[i].Synonyms = append(next.Exact[i].Synonyms, normalized)
			added = true
			break
		}
	}
	if !added {
		next.Exact = append(next.Exact, ExactRule{Synonyms: []string{normalized}, CanonicalKey: canonicalKey})
	}

	if _, err := Compile(next); err != nil {
		return RuleTable{}, eris.Wrapf(err, "mapping: promote %q to %s", rawLabel, canonicalKey)
	}
	return next, nil
}
