// Package llmcall records extraction service calls for traceability.
// Every call is recorded with its batch, files, response, and metrics.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/auditparse/internal/providers"
)

// Call represents a recorded extraction service call.
type Call struct {
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	RunID   string   `json:"run_id,omitempty"`
	Batch   int      `json:"batch"`
	Files   []string `json:"files,omitempty"`
	Attempt int      `json:"attempt"`

	PromptKey string `json:"prompt_key"`

	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	RequestID   string   `json:"request_id,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	// RepairRounds counts follow-up requests beyond the first.
	RepairRounds int `json:"repair_rounds,omitempty"`

	Response string `json:"response"`

	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RecordOptions provides context for recording a call.
type RecordOptions struct {
	RunID   string
	Batch   int
	Files   []string
	Attempt int

	PromptKey string

	// Pointer to distinguish "not set" from "set to 0"
	Temperature *float64
}

// FromChatResult creates a Call from a ChatResult.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	latency := result.TotalTime
	if latency == 0 {
		latency = result.ExecutionTime
	}

	call := &Call{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		LatencyMs:    int(latency.Milliseconds()),
		RunID:        opts.RunID,
		Batch:        opts.Batch,
		Files:        append([]string(nil), opts.Files...),
		Attempt:      opts.Attempt,
		PromptKey:    opts.PromptKey,
		Provider:     result.Provider,
		Model:        result.ModelUsed,
		RequestID:    result.RequestID,
		Temperature:  opts.Temperature,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		Response:     result.Content,
		Success:      result.Success,
		ErrorType:    result.ErrorType,
	}
	if result.Attempts > 1 {
		call.RepairRounds = result.Attempts - 1
	}
	if !result.Success || result.ErrorType != "" {
		call.Error = result.ErrorMessage
	}

	return call
}
