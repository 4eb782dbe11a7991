package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotObject is returned when raw data for a file is not mapping-shaped.
var ErrNotObject = errors.New("raw extraction is not an object")

// Field names as they appear in serialized records.
const (
	FieldReportTitle          = "report_title"
	FieldExecutiveSummary     = "executive_summary"
	FieldOverallAuditRating   = "overall_audit_rating"
	FieldDetails              = "details"
	FieldRecommendations      = "recommendations"
	FieldManagementActionPlan = "management_action_plan"

	FieldObservation    = "observation"
	FieldRisk           = "risk"
	FieldRiskRating     = "risk_rating"
	FieldRecommendation = "recommendation"
	FieldStatus         = "status"
)

// fieldAliases maps alternate keys seen in model output to canonical ones.
var fieldAliases = map[string]string{
	"title":                    FieldReportTitle,
	"summary":                  FieldExecutiveSummary,
	"overall_audit_conclusion": FieldOverallAuditRating,
	"overall_rating":           FieldOverallAuditRating,
	"audit_rating":             FieldOverallAuditRating,
	"findings":                 FieldDetails,
	"action_plan":              FieldManagementActionPlan,
	"management_response":      FieldManagementActionPlan,
	"rating":                   FieldRiskRating,
}

// CanonicalRating returns the canonical label for v and whether v is valid.
// Matching is case-sensitive; FOR_IMPROVEMENT is accepted as an alias.
func CanonicalRating(v string) (string, bool) {
	switch v {
	case "", RatingAdequate, RatingForImprovement, RatingInadequate:
		return v, true
	case "FOR_IMPROVEMENT":
		return RatingForImprovement, true
	default:
		return v, false
	}
}

// Validate coerces one file's raw extraction into a complete Record.
//
// Missing fields take their zero value. Enum fields holding unexpected
// values are kept, flagged on the record, and reported as
// FieldValidationErrors. The only hard failure is raw data that is not an
// object, which returns ErrNotObject.
func Validate(file string, raw any) (Record, []*FieldValidationError, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		if raw == nil {
			return Record{}, nil, fmt.Errorf("%s: %w (got null)", file, ErrNotObject)
		}
		return Record{}, nil, fmt.Errorf("%s: %w (got %T)", file, ErrNotObject, raw)
	}

	v := &validator{file: file, rec: New()}
	fields := canonicalKeys(obj)

	v.rec.ReportTitle = v.str(FieldReportTitle, fields[FieldReportTitle])
	v.rec.ExecutiveSummary = v.str(FieldExecutiveSummary, fields[FieldExecutiveSummary])
	v.rec.OverallAuditRating = v.rating(FieldOverallAuditRating, fields[FieldOverallAuditRating])
	v.rec.Details = v.details(fields[FieldDetails])
	v.rec.Recommendations = v.list(FieldRecommendations, fields[FieldRecommendations])
	v.rec.ManagementActionPlan = v.list(FieldManagementActionPlan, fields[FieldManagementActionPlan])

	return v.rec, v.errs, nil
}

type validator struct {
	file string
	rec  Record
	errs []*FieldValidationError
}

// canonicalKeys normalizes key spelling ("Report Title" -> report_title) and
// resolves aliases. Canonical keys win over aliases when both are present.
func canonicalKeys(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	aliased := make(map[string]any)
	for k, val := range obj {
		key := normalizeKey(k)
		if canon, ok := fieldAliases[key]; ok {
			if _, seen := aliased[canon]; !seen {
				aliased[canon] = val
			}
			continue
		}
		out[key] = val
	}
	for k, val := range aliased {
		if _, ok := out[k]; !ok {
			out[k] = val
		}
	}
	return out
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}

func (v *validator) str(field string, raw any) string {
	s, ok := coerceString(raw)
	if !ok {
		v.rec.flag(field, s, "expected string")
	}
	return s
}

// rating flags at most once per field. Padded or recased labels are
// flagged like any other unknown value.
func (v *validator) rating(field string, raw any) string {
	s, ok := coerceString(raw)
	if !ok {
		v.rec.flag(field, s, "expected rating string")
		v.errs = append(v.errs, &FieldValidationError{File: v.file, Field: field, Value: s})
		return s
	}
	canon, ok := CanonicalRating(s)
	if !ok {
		v.rec.flag(field, s, "not a recognized rating")
		v.errs = append(v.errs, &FieldValidationError{File: v.file, Field: field, Value: s})
		return s
	}
	return canon
}

func (v *validator) list(field string, raw any) []string {
	out := []string{}
	switch val := raw.(type) {
	case nil:
	case []any:
		for i, item := range val {
			s, ok := coerceString(item)
			if !ok {
				v.rec.flag(fmt.Sprintf("%s[%d]", field, i), s, "expected string")
			}
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	case string:
		if strings.TrimSpace(val) != "" {
			out = append(out, val)
		}
	default:
		s, ok := coerceString(val)
		if !ok {
			v.rec.flag(field, s, "expected list of strings")
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (v *validator) details(raw any) []Finding {
	out := []Finding{}
	var items []any
	switch val := raw.(type) {
	case nil:
		return out
	case []any:
		items = val
	case map[string]any:
		items = []any{val}
	default:
		s, _ := coerceString(val)
		v.rec.flag(FieldDetails, s, "expected list of findings")
		if strings.TrimSpace(s) != "" {
			out = append(out, Finding{Observation: s})
		}
		return out
	}

	for i, item := range items {
		path := fmt.Sprintf("%s[%d]", FieldDetails, i)
		obj, ok := item.(map[string]any)
		if !ok {
			s, _ := coerceString(item)
			v.rec.flag(path, s, "expected finding object")
			out = append(out, Finding{Observation: s})
			continue
		}
		fields := canonicalKeys(obj)
		out = append(out, Finding{
			Observation:    v.str(path+"."+FieldObservation, fields[FieldObservation]),
			Risk:           v.str(path+"."+FieldRisk, fields[FieldRisk]),
			RiskRating:     v.rating(path+"."+FieldRiskRating, fields[FieldRiskRating]),
			Recommendation: v.str(path+"."+FieldRecommendation, fields[FieldRecommendation]),
			Status:         v.str(path+"."+FieldStatus, fields[FieldStatus]),
		})
	}
	return out
}

// coerceString renders scalar values as strings. Lists of scalars are
// newline-joined. Objects are rendered as JSON and reported as not ok.
func coerceString(raw any) (string, bool) {
	switch val := raw.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	case int:
		return strconv.Itoa(val), true
	case []any:
		parts := make([]string, 0, len(val))
		ok := true
		for _, item := range val {
			s, itemOK := coerceString(item)
			ok = ok && itemOK
			if s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n"), ok
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val), false
		}
		return string(b), false
	}
}
