package rating

import (
	"maps"
	"slices"
	"strings"

	"github.com/sells-group/credit-core/internal/model"
)

// noteSignal is what a classified note contributes to qualitative inputs.
type noteSignal struct {
	noteType string
	driver   string
	level    string
	flag     string
}

// noteSignals is evaluated in order for each note.
var noteSignals = []noteSignal{
	{noteType: "GOING_CONCERN", flag: FlagGoingConcern},
	{noteType: "GOING_CONCERN", driver: "financial_policy", level: LevelLow},
	{noteType: "COVENANT_BREACH", flag: FlagCovenantBreach},
	{noteType: "COVENANT_BREACH", driver: "financial_policy", level: LevelLow},
	{noteType: "CONTINGENCIES", driver: "financial_policy", level: LevelLow},
	{noteType: "IMPAIRMENT", driver: "market_position", level: LevelLow},
	{noteType: "RELATED_PARTY", driver: "management", level: LevelLow},
}

// QualitativeFromNotes derives qualitative inputs from classified notes.
// Levels already present in base always win; among notes, the first signal
// for a driver wins. Flags are merged and sorted. base is not modified.
func QualitativeFromNotes(notes []model.Note, base Qualitative) Qualitative {
	out := Qualitative{Levels: make(map[string]string)}
	maps.Copy(out.Levels, base.Levels)
	out.Flags = slices.Clone(base.Flags)

	for _, n := range notes {
		nt := strings.ToUpper(strings.TrimSpace(n.NoteType))
		for _, sig := range noteSignals {
			if sig.noteType != nt {
				continue
			}
			if sig.flag != "" && !slices.Contains(out.Flags, sig.flag) {
				out.Flags = append(out.Flags, sig.flag)
			}
			if sig.driver != "" {
				if _, set := out.Levels[sig.driver]; !set {
					out.Levels[sig.driver] = sig.level
				}
			}
		}
	}

	slices.Sort(out.Flags)
	if len(out.Levels) == 0 {
		out.Levels = nil
	}
	return out
}
