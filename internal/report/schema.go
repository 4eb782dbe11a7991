package report

import (
	"encoding/json"
)

// SchemaName identifies the batch response schema in structured-output requests.
const SchemaName = "audit_report_batch"

func stringProp() map[string]any {
	return map[string]any{"type": "string"}
}

func stringListProp() map[string]any {
	return map[string]any{"type": "array", "items": stringProp()}
}

func ratingProp() map[string]any {
	return map[string]any{"type": "string", "enum": Ratings}
}

// FindingSchema is the JSON schema of one Finding.
func FindingSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			FieldObservation:    stringProp(),
			FieldRisk:           stringProp(),
			FieldRiskRating:     ratingProp(),
			FieldRecommendation: stringProp(),
			FieldStatus:         stringProp(),
		},
		"required": []string{
			FieldObservation, FieldRisk, FieldRiskRating, FieldRecommendation, FieldStatus,
		},
		"additionalProperties": false,
	}
}

// RecordSchema is the JSON schema of one Record, without bookkeeping fields.
func RecordSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			FieldReportTitle:          stringProp(),
			FieldExecutiveSummary:     stringProp(),
			FieldOverallAuditRating:   ratingProp(),
			FieldDetails:              map[string]any{"type": "array", "items": FindingSchema()},
			FieldRecommendations:      stringListProp(),
			FieldManagementActionPlan: stringListProp(),
		},
		"required": []string{
			FieldReportTitle, FieldExecutiveSummary, FieldOverallAuditRating,
			FieldDetails, FieldRecommendations, FieldManagementActionPlan,
		},
		"additionalProperties": false,
	}
}

// BatchSchema returns the raw schema of a batch response: one Record per
// filename, keyed by filename, with no other keys allowed.
func BatchSchema(files []string) map[string]any {
	props := make(map[string]any, len(files))
	for _, f := range files {
		props[f] = RecordSchema()
	}
	required := make([]string, len(files))
	copy(required, files)
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// BatchResponseFormat wraps BatchSchema in the {"name","strict","schema"}
// envelope used by json_schema response formats.
func BatchResponseFormat(files []string) (json.RawMessage, error) {
	return json.Marshal(map[string]any{
		"name":   SchemaName,
		"strict": true,
		"schema": BatchSchema(files),
	})
}
