// Package rules holds the fixed validation catalogue and evaluates it per row.
//
// Rules run in two row phases. Pre-lookup rules see only the input record and the
// run's seen-identifier state; post-lookup rules also see the registry outcome and the
// match result. Run-level rules describe the run itself and carry RowIndex -1.
package rules

import "fmt"

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "Error"
	SeverityWarning Severity = "Warning"
	SeverityInfo    Severity = "Info"
)

// Phase of the pipeline a rule belongs to.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
	PhaseRun  Phase = "run"
)

// RunRow is the RowIndex of diagnostics that describe the whole run.
const RunRow = -1

// Rule ids, in catalogue order.
const (
	IDMissing          = "R-GWR-01"
	IDMalformed        = "R-GWR-02"
	IDDuplicate        = "R-GWR-03"
	IDPostalCode       = "R-GWR-04"
	IDCanton           = "R-GWR-05"
	IDInputCoordinates = "R-GWR-06"
	IDNotFound         = "R-GWR-07"
	IDLookupFailed     = "R-GWR-08"
	IDAddress          = "R-GWR-09"
	IDDeviation        = "R-GWR-10"
	IDPartial          = "R-GWR-11"
	IDMismatch         = "R-GWR-12"
	IDStreetFormat     = "R-GWR-13"
	IDCoordinatePair   = "R-GWR-14"
	IDDuplicateAddress = "R-GWR-15"

	IDUnmappedField = "R-RUN-01"
	IDFallback      = "R-RUN-02"
	IDIncomplete    = "R-RUN-03"
)

// Rule is catalogue metadata. Severity is fixed per rule.
//
// Mandatory rules fire whatever rule subset a run enables: they report unusable
// identifiers, failed lookups and the state of the run itself.
type Rule struct {
	ID        string   `json:"id" yaml:"id"`
	Phase     Phase    `json:"phase" yaml:"phase"`
	Severity  Severity `json:"severity" yaml:"severity"`
	Title     string   `json:"title" yaml:"title"`
	Mandatory bool     `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
}

var catalogue = []Rule{
	{ID: IDMissing, Phase: PhasePre, Severity: SeverityError, Title: "building identifier present", Mandatory: true},
	{ID: IDMalformed, Phase: PhasePre, Severity: SeverityError, Title: "building identifier is a positive integer", Mandatory: true},
	{ID: IDDuplicate, Phase: PhasePre, Severity: SeverityWarning, Title: "building identifier unique in dataset"},
	{ID: IDPostalCode, Phase: PhasePre, Severity: SeverityError, Title: "postal code has four digits in 1000-9999"},
	{ID: IDCanton, Phase: PhasePre, Severity: SeverityError, Title: "canton is a Swiss canton code"},
	{ID: IDInputCoordinates, Phase: PhasePre, Severity: SeverityError, Title: "input coordinates recognised and inside Switzerland"},
	{ID: IDNotFound, Phase: PhasePost, Severity: SeverityError, Title: "building found in registry"},
	{ID: IDLookupFailed, Phase: PhasePost, Severity: SeverityError, Title: "registry lookup succeeded", Mandatory: true},
	{ID: IDAddress, Phase: PhasePost, Severity: SeverityInfo, Title: "input address complete"},
	{ID: IDDeviation, Phase: PhasePost, Severity: SeverityWarning, Title: "coordinates within tolerance of registry"},
	{ID: IDPartial, Phase: PhasePost, Severity: SeverityWarning, Title: "partial match with registry"},
	{ID: IDMismatch, Phase: PhasePost, Severity: SeverityError, Title: "record matches registry"},
	{ID: IDStreetFormat, Phase: PhasePre, Severity: SeverityWarning, Title: "street name is plausible"},
	{ID: IDCoordinatePair, Phase: PhasePre, Severity: SeverityWarning, Title: "coordinate pair complete"},
	{ID: IDDuplicateAddress, Phase: PhasePre, Severity: SeverityWarning, Title: "address unique in dataset"},
	{ID: IDUnmappedField, Phase: PhaseRun, Severity: SeverityInfo, Title: "optional field mapped to a column", Mandatory: true},
	{ID: IDFallback, Phase: PhaseRun, Severity: SeverityInfo, Title: "concurrent registry lookups available", Mandatory: true},
	{ID: IDIncomplete, Phase: PhaseRun, Severity: SeverityWarning, Title: "run completed", Mandatory: true},
}

var byID = func() map[string]Rule {
	m := make(map[string]Rule, len(catalogue))
	for _, r := range catalogue {
		m[r.ID] = r
	}
	return m
}()

// Catalogue returns every rule in declaration order.
func Catalogue() []Rule {
	return append([]Rule(nil), catalogue...)
}

// Lookup returns the rule with id.
func Lookup(id string) (Rule, bool) {
	r, ok := byID[id]
	return r, ok
}

// Diagnostic is one finding. It is not modified after creation.
type Diagnostic struct {
	RuleID   string   `json:"ruleId"`
	Severity Severity `json:"severity"`
	RowIndex int      `json:"rowIndex"`
	Message  string   `json:"message"`
	// Column is the logical field the finding is about, if any.
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
}

func newDiagnostic(id string, row int, column, value, format string, args ...any) Diagnostic {
	return Diagnostic{
		RuleID:   id,
		Severity: byID[id].Severity,
		RowIndex: row,
		Message:  fmt.Sprintf(format, args...),
		Column:   column,
		Value:    value,
	}
}
