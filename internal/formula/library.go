// Package formula holds the versioned formula library and the metric engine
// that evaluates it against a fact store.
package formula

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-core/internal/model"
)

// ID identifies a formula version. Published ids are immutable: a change in
// behavior is a new Version, never an edit.
type ID struct {
	Namespace string
	Version   string
	Name      string
}

func (id ID) String() string {
	return id.Namespace + "/" + id.Version + "/" + id.Name
}

// ParseID parses "namespace/version/name".
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ID{}, eris.Errorf("formula: malformed id %q", s)
	}
	return ID{Namespace: parts[0], Version: parts[1], Name: parts[2]}, nil
}

// Input declares one formula input. Offset shifts the period by whole years,
// so -1 reads the prior period. Name is the key used in Values; it defaults
// to Key.
type Input struct {
	Name     string
	Key      string
	Source   model.InputSource
	Offset   int
	Optional bool
}

func (in Input) name() string {
	if in.Name != "" {
		return in.Name
	}
	return in.Key
}

// Values holds resolved input values by input name. Optional inputs that
// could not be resolved are absent.
type Values map[string]float64

// Get returns the named value and whether it was resolved.
func (v Values) Get(name string) (float64, bool) {
	x, ok := v[name]
	return x, ok
}

// Or returns the named value, or def when it was not resolved.
func (v Values) Or(name string, def float64) float64 {
	if x, ok := v[name]; ok {
		return x
	}
	return def
}

// ComputeFunc computes a metric from resolved inputs. It returns false when
// the result is undefined, such as a zero denominator.
type ComputeFunc func(Values) (float64, bool)

// Spec is one formula definition.
type Spec struct {
	ID        ID
	MetricKey string
	Inputs    []Input
	Compute   ComputeFunc
}

// CycleError reports formulas whose metric inputs depend on each other.
type CycleError struct {
	Formulas []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("formula: dependency cycle among %s", strings.Join(e.Formulas, ", "))
}

// Library is a validated, immutable set of formulas in evaluation order.
type Library struct {
	version string
	specs   []Spec
}

// NewLibrary validates specs and orders them so that every composite formula
// follows the formulas it reads from. Ties are broken by formula id.
func NewLibrary(version string, specs []Spec) (*Library, error) {
	if strings.TrimSpace(version) == "" {
		return nil, eris.New("formula: library version is required")
	}

	var problems []string
	ids := make(map[string]bool)
	producers := make(map[string]int)
	for i, s := range specs {
		id := s.ID.String()
		if s.ID.Namespace == "" || s.ID.Version == "" || s.ID.Name == "" {
			problems = append(problems, fmt.Sprintf("formula %d: incomplete id %q", i, id))
		}
		if ids[id] {
			problems = append(problems, fmt.Sprintf("formula %s: duplicate id", id))
		}
		ids[id] = true
		if s.MetricKey == "" {
			problems = append(problems, fmt.Sprintf("formula %s: metric key is required", id))
		} else if _, dup := producers[s.MetricKey]; dup {
			problems = append(problems, fmt.Sprintf("formula %s: metric %q already produced", id, s.MetricKey))
		} else {
			producers[s.MetricKey] = i
		}
		if s.Compute == nil {
			problems = append(problems, fmt.Sprintf("formula %s: compute is required", id))
		}
		names := make(map[string]bool)
		for _, in := range s.Inputs {
			if in.Key == "" {
				problems = append(problems, fmt.Sprintf("formula %s: input key is required", id))
			}
			if in.Source != model.SourceFact && in.Source != model.SourceMetric {
				problems = append(problems, fmt.Sprintf("formula %s: input %q has unknown source %q", id, in.Key, in.Source))
			}
			if in.Offset > 0 {
				problems = append(problems, fmt.Sprintf("formula %s: input %q reads a future period", id, in.Key))
			}
			if names[in.name()] {
				problems = append(problems, fmt.Sprintf("formula %s: duplicate input name %q", id, in.name()))
			}
			names[in.name()] = true
		}
	}
	for _, s := range specs {
		for _, in := range s.Inputs {
			if in.Source != model.SourceMetric {
				continue
			}
			if _, ok := producers[in.Key]; !ok {
				problems = append(problems, fmt.Sprintf("formula %s: metric input %q is not produced by the library", s.ID, in.Key))
			}
		}
	}
	if len(problems) > 0 {
		return nil, eris.Errorf("formula: library %s invalid: %s", version, strings.Join(problems, "; "))
	}

	order, err := topoOrder(specs, producers)
	if err != nil {
		return nil, err
	}

	lib := &Library{version: version, specs: make([]Spec, len(order))}
	for i, idx := range order {
		s := specs[idx]
		s.Inputs = slices.Clone(s.Inputs)
		lib.specs[i] = s
	}
	return lib, nil
}

// MustNewLibrary is NewLibrary for built-in libraries. It panics on error.
func MustNewLibrary(version string, specs []Spec) *Library {
	lib, err := NewLibrary(version, specs)
	if err != nil {
		panic(err)
	}
	return lib
}

// topoOrder runs Kahn's algorithm, always taking the ready formula with the
// smallest id.
func topoOrder(specs []Spec, producers map[string]int) ([]int, error) {
	indegree := make([]int, len(specs))
	dependents := make([][]int, len(specs))
	for i, s := range specs {
		seen := make(map[int]bool)
		for _, in := range s.Inputs {
			if in.Source != model.SourceMetric {
				continue
			}
			dep := producers[in.Key]
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[i]++
			dependents[dep] = append(dependents[dep], i)
		}
	}

	byID := func(a, b int) int { return strings.Compare(specs[a].ID.String(), specs[b].ID.String()) }

	var ready []int
	for i := range specs {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]int, 0, len(specs))
	for len(ready) > 0 {
		slices.SortFunc(ready, byID)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(specs) {
		var cyclic []string
		for i := range specs {
			if indegree[i] > 0 {
				cyclic = append(cyclic, specs[i].ID.String())
			}
		}
		slices.Sort(cyclic)
		return nil, &CycleError{Formulas: cyclic}
	}
	return order, nil
}

// Version returns the library version, e.g. "credit/v1".
func (l *Library) Version() string {
	return l.version
}

// Specs returns the formulas in evaluation order.
func (l *Library) Specs() []Spec {
	return slices.Clone(l.specs)
}

// Lookup returns the formula producing metricKey.
func (l *Library) Lookup(metricKey string) (Spec, bool) {
	for _, s := range l.specs {
		if s.MetricKey == metricKey {
			return s, true
		}
	}
	return Spec{}, false
}
