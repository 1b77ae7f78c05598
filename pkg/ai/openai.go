package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ikhtibar",
		Subsystem: "ai",
		Name:      "suggestion_duration_seconds",
		Help:      "Duration of AI grading suggestion requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ikhtibar",
		Subsystem: "ai",
		Name:      "suggestion_failures_total",
		Help:      "Number of AI grading suggestion failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI suggester.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAISuggester implements Suggester against the OpenAI chat completion API.
type OpenAISuggester struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAISuggester builds a new suggester using the provided configuration.
func NewOpenAISuggester(cfg OpenAIConfig) (*OpenAISuggester, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	tracer := otel.Tracer("github.com/ikhtibar/assessment-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAISuggester{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Suggest sends the grading suggestion request to OpenAI and parses the response.
func (e *OpenAISuggester) Suggest(parent context.Context, input SuggestionInput) (SuggestionResult, error) {
	ctx, span := e.tracer.Start(parent, "openai.suggest", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: suggesterSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := e.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)
	aiDuration.WithLabelValues(e.cfg.Model).Observe(duration.Seconds())
	if err != nil {
		aiFailures.WithLabelValues(e.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SuggestionResult{}, fmt.Errorf("openai suggest: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(e.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SuggestionResult{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	result, err := parseSuggestionResponse(content, input.MaxPoints)
	if err != nil {
		aiFailures.WithLabelValues(e.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SuggestionResult{}, err
	}

	result.Model = e.cfg.Model
	result.Raw = map[string]interface{}{
		"usage": resp.Usage,
	}

	return result, nil
}

func suggesterSystemPrompt() string {
	return "You are an exam grading assistant. Respond with a JSON object containing score (0 to max_points), comment, and co" +
		"nfidence (0-1). Judge only the candidate answer against the question and rubric; be strict about factual correctness."
}

func buildUserPrompt(input SuggestionInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Question\n")
	builder.WriteString(input.QuestionText)
	builder.WriteString("\n\n## Question Type\n")
	builder.WriteString(input.QuestionType)
	builder.WriteString(fmt.Sprintf("\n\n## Max Points\n%.2f", input.MaxPoints))
	if len(input.AcceptedAnswers) > 0 {
		builder.WriteString("\n\n## Accepted Answers\n")
		builder.WriteString(strings.Join(input.AcceptedAnswers, "\n"))
	}
	if input.RubricNotes != "" {
		builder.WriteString("\n\n## Rubric\n")
		builder.WriteString(input.RubricNotes)
	}
	builder.WriteString("\n\n## Candidate Answer\n")
	builder.WriteString(input.CandidateAnswer)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseSuggestionResponse(content string, maxPoints float64) (SuggestionResult, error) {
	type payload struct {
		Score      float64 `json:"score"`
		Comment    string  `json:"comment"`
		Confidence float64 `json:"confidence"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return SuggestionResult{}, fmt.Errorf("parse suggestion json: %w", err)
	}

	if data.Score < 0 {
		data.Score = 0
	}
	if maxPoints > 0 && data.Score > maxPoints {
		data.Score = maxPoints
	}
	if data.Confidence < 0 {
		data.Confidence = 0
	}
	if data.Confidence > 1 {
		data.Confidence = 1
	}

	return SuggestionResult{
		Score:      data.Score,
		Comment:    data.Comment,
		Confidence: data.Confidence,
	}, nil
}
