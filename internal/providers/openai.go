package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName         = "openai"
	OpenAIDefaultModel = "gpt-5-mini"
)

// ErrUnparsableOutput is returned when no attempt produced decodable JSON.
var ErrUnparsableOutput = errors.New("structured output could not be parsed")

// OpenAIConfig holds configuration for the OpenAI-compatible chat client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // Optional: OpenRouter or any OpenAI-compatible endpoint
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	RPS            float64 // Requests per second
	MaxConcurrency int
	// RepairAttempts is the number of follow-up requests made when structured
	// output fails to parse or validate. 0 disables repair.
	RepairAttempts int

	HTTPClient *http.Client // Optional (tests)
}

// OpenAIClient implements LLMClient with the official OpenAI SDK.
type OpenAIClient struct {
	model          string
	temperature    float64
	maxTokens      int
	rps            float64
	maxConcurrency int
	repairAttempts int
	client         openai.Client
}

// NewOpenAIClient creates a new chat client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = OpenAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2.0
	}
	if cfg.RepairAttempts < 0 {
		cfg.RepairAttempts = 0
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	// Batch retries are owned by the pipeline; the SDK makes a single attempt.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		rps:            cfg.RPS,
		maxConcurrency: cfg.MaxConcurrency,
		repairAttempts: cfg.RepairAttempts,
		client:         openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Model returns the configured default model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// RequestsPerSecond returns the configured rate limit.
func (c *OpenAIClient) RequestsPerSecond() float64 {
	return c.rps
}

// MaxConcurrency returns max concurrent in-flight requests.
func (c *OpenAIClient) MaxConcurrency() int {
	return c.maxConcurrency
}

// Chat sends a chat completion request. When a ResponseFormat is set the
// reply is parsed leniently and validated against the schema; failures
// trigger up to RepairAttempts follow-up requests in the same conversation.
//
// If the final reply parses but does not validate, the result is returned
// without error, carrying ParsedJSON and ErrorType "schema_mismatch". If no
// reply parses, ErrUnparsableOutput is returned.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OpenAIName,
		ModelUsed: model,
	}
	fail := func(errType string, err error) (*ChatResult, error) {
		result.Success = false
		result.ErrorType = errType
		result.ErrorMessage = err.Error()
		result.TotalTime = time.Since(start)
		return result, err
	}

	var env *schemaEnvelope
	if req.ResponseFormat != nil && len(req.ResponseFormat.JSONSchema) > 0 {
		decoded, err := decodeEnvelope(req.ResponseFormat.JSONSchema)
		if err != nil {
			return fail(ErrorTypeJSONParse, err)
		}
		env = &decoded
	}

	messages := append([]Message(nil), req.Messages...)
	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		resp, err := c.client.Chat.Completions.New(ctx, c.params(model, messages, req, env))
		if err != nil {
			err = mapOpenAIError(err)
			if rle, ok := IsRateLimitError(err); ok {
				result.RetryAfter = rle.RetryAfter
				return fail(ErrorTypeRateLimit, err)
			}
			return fail(ErrorTypeHTTP, err)
		}

		result.PromptTokens += int(resp.Usage.PromptTokens)
		result.CompletionTokens += int(resp.Usage.CompletionTokens)
		result.ReasoningTokens += int(resp.Usage.CompletionTokensDetails.ReasoningTokens)
		result.TotalTokens += int(resp.Usage.TotalTokens)
		if resp.Model != "" {
			result.ModelUsed = resp.Model
		}

		if len(resp.Choices) == 0 {
			return fail(ErrorTypeEmptyResponse, fmt.Errorf("no choices in response"))
		}
		content := resp.Choices[0].Message.Content
		result.Content = content
		result.ExecutionTime = time.Since(start)

		if req.ResponseFormat == nil {
			break
		}

		parsed, issue := parseStructuredJSON(content)
		if issue == nil {
			result.ParsedJSON = parsed
			issue = validateStructuredJSON(req.ResponseFormat.JSONSchema, parsed)
		}
		if issue == nil {
			result.ErrorType = ""
			result.ErrorMessage = ""
			break
		}

		if attempt >= c.repairAttempts {
			if result.ParsedJSON == nil {
				return fail(ErrorTypeJSONParse, fmt.Errorf("%w: %v", ErrUnparsableOutput, issue))
			}
			result.ErrorType = ErrorTypeSchemaMismatch
			result.ErrorMessage = issue.Error()
			break
		}

		messages = append(messages,
			Message{Role: RoleAssistant, Content: content},
			Message{Role: RoleUser, Content: structuredRepairPrompt(req.ResponseFormat.JSONSchema, content, issue)},
		)
	}

	result.Success = true
	result.TotalTime = time.Since(start)
	return result, nil
}

func (c *OpenAIClient) params(model string, messages []Message, req *ChatRequest, env *schemaEnvelope) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	if env != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   env.Name,
					Schema: env.Schema,
					Strict: openai.Bool(env.Strict),
				},
			},
		}
	}
	return params
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI chat error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI chat error (status %d)", apiErr.StatusCode)
	}
	return err
}

var _ LLMClient = (*OpenAIClient)(nil)
