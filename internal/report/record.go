// Package report defines the canonical audit Report Record and the
// validator that coerces loosely typed extraction output into it.
package report

import (
	"encoding/json"
	"fmt"
)

// Canonical audit rating labels. The empty string means "unresolved".
const (
	RatingAdequate       = "ADEQUATE"
	RatingForImprovement = "FOR IMPROVEMENT"
	RatingInadequate     = "INADEQUATE"
)

// Ratings lists the accepted rating values, including the unresolved "".
var Ratings = []string{RatingAdequate, RatingForImprovement, RatingInadequate, ""}

// Finding is one row of the report's details table.
type Finding struct {
	Observation    string `json:"observation"`
	Risk           string `json:"risk"`
	RiskRating     string `json:"risk_rating"`
	Recommendation string `json:"recommendation"`
	Status         string `json:"status"`
}

// Record is the validated structured form of one audit document.
// Every field is always serialized; absent data is the zero value.
type Record struct {
	ReportTitle          string    `json:"report_title"`
	ExecutiveSummary     string    `json:"executive_summary"`
	OverallAuditRating   string    `json:"overall_audit_rating"`
	Details              []Finding `json:"details"`
	Recommendations      []string  `json:"recommendations"`
	ManagementActionPlan []string  `json:"management_action_plan"`

	// Meta carries pipeline bookkeeping; omitted when empty.
	Meta *Meta `json:"_meta,omitempty"`
}

// Meta records why a record is incomplete or which fields were flagged.
type Meta struct {
	Unresolved bool        `json:"unresolved,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Flags      []FieldFlag `json:"flags,omitempty"`
}

// FieldFlag marks a field whose value was kept but did not validate.
type FieldFlag struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// New returns an empty record with all list fields initialized.
func New() Record {
	return Record{
		Details:              []Finding{},
		Recommendations:      []string{},
		ManagementActionPlan: []string{},
	}
}

// Unresolved returns an all-default record tagged as unresolved.
func Unresolved(reason string) Record {
	r := New()
	r.Meta = &Meta{Unresolved: true, Reason: reason}
	return r
}

// IsUnresolved reports whether the record is a synthesized default.
func (r Record) IsUnresolved() bool {
	return r.Meta != nil && r.Meta.Unresolved
}

// Flags returns the record's field flags.
func (r Record) Flags() []FieldFlag {
	if r.Meta == nil {
		return nil
	}
	return r.Meta.Flags
}

func (r *Record) flag(field, value, reason string) {
	if r.Meta == nil {
		r.Meta = &Meta{}
	}
	r.Meta.Flags = append(r.Meta.Flags, FieldFlag{Field: field, Value: value, Reason: reason})
}

// normalized returns a copy whose nil lists are replaced with empty ones.
func (r Record) normalized() Record {
	if r.Details == nil {
		r.Details = []Finding{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	if r.ManagementActionPlan == nil {
		r.ManagementActionPlan = []string{}
	}
	if r.Meta != nil && !r.Meta.Unresolved && r.Meta.Reason == "" && len(r.Meta.Flags) == 0 {
		r.Meta = nil
	}
	return r
}

// MarshalJSON guarantees list fields serialize as [] rather than null.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(plain(r.normalized()))
}

// UnmarshalJSON decodes a persisted record and restores empty lists.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p).normalized()
	return nil
}

// FieldValidationError reports an enum-constrained field holding an
// unexpected value. The record is still produced with the value preserved.
type FieldValidationError struct {
	File  string
	Field string
	Value string
}

func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("%s: field %s has invalid value %q", e.File, e.Field, e.Value)
}
