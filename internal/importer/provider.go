package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/gorm"
)

// Provider names accepted in config and ai_configs rows.
const (
	ProviderBuiltin   = "builtin"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// FeatureCSVMapping is the ai_configs feature key for column mapping.
const FeatureCSVMapping = "csv_mapping"

const (
	defaultOpenAIModel    = "gpt-4o"
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	anthropicBaseURL      = "https://api.anthropic.com/v1/"
	maxCompletionTokens   = 8192
)

// Suggestion is a provider's proposed mapping for one column.
type Suggestion struct {
	Column     string  `json:"csv_column"`
	Field      *string `json:"db_field"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Provider proposes mappings for columns the rules could not settle.
type Provider interface {
	Name() string
	Suggest(ctx context.Context, m *Module, headers []string, samples [][]string) ([]Suggestion, error)
}

// Builtin maps columns by fuzzy similarity to field names, offline. Its
// suggestions always stay below the review threshold.
type Builtin struct{}

// Name implements Provider.
func (Builtin) Name() string { return ProviderBuiltin }

const (
	builtinMinSimilarity = 0.4
	builtinMaxConfidence = 0.65
)

// Suggest implements Provider.
func (Builtin) Suggest(_ context.Context, m *Module, headers []string, _ [][]string) ([]Suggestion, error) {
	names := m.FieldNames()
	out := make([]Suggestion, 0, len(headers))
	for _, h := range headers {
		norm := normalizeHeader(h)
		best, score := "", 0.0
		for _, r := range fuzzy.RankFindNormalizedFold(norm, names) {
			if s := similarity(norm, r.Target); s > score {
				best, score = r.Target, s
			}
		}
		for _, name := range names {
			if fuzzy.MatchNormalizedFold(name, norm) {
				if s := similarity(norm, name); s > score {
					best, score = name, s
				}
			}
		}
		s := Suggestion{Column: h}
		if best == "" || score < builtinMinSimilarity {
			s.Reasoning = "No similar field name"
		} else {
			field := best
			s.Field = &field
			s.Confidence = round2(min(score, 1) * builtinMaxConfidence)
			s.Reasoning = fmt.Sprintf("Similar to field %s", best)
		}
		out = append(out, s)
	}
	return out, nil
}

func similarity(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	return 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(longest)
}

// Completer is the chat completion call of an OpenAI-compatible client.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Chat asks a chat model for mappings.
type Chat struct {
	name     string
	model    string
	jsonMode bool
	client   Completer
}

// NewOpenAI returns a provider backed by the OpenAI API.
func NewOpenAI(apiKey, model string) *Chat {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &Chat{name: ProviderOpenAI, model: model, jsonMode: true, client: openai.NewClient(apiKey)}
}

// NewAnthropic returns a provider backed by Anthropic's OpenAI-compatible
// endpoint.
func NewAnthropic(apiKey, model string) *Chat {
	if model == "" {
		model = defaultAnthropicModel
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = anthropicBaseURL
	return &Chat{name: ProviderAnthropic, model: model, client: openai.NewClientWithConfig(cfg)}
}

// Name implements Provider.
func (c *Chat) Name() string { return c.name }

// Suggest implements Provider. A reply that is not the expected JSON maps
// every column to nothing with zero confidence.
func (c *Chat) Suggest(ctx context.Context, m *Module, headers []string, samples [][]string) ([]Suggestion, error) {
	prompt, err := buildPrompt(m, headers, samples)
	if err != nil {
		return nil, err
	}
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxCompletionTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if c.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("importer: %s completion: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("importer: %s completion: empty response", c.name)
	}
	return parseSuggestions(m, headers, resp.Choices[0].Message.Content), nil
}

const promptTemplate = `You are analyzing a CSV file to map columns to a %s database schema for a manufacturing ERP system.

## Target Database Schema:
%s

## CSV Headers (%d columns):
%s

## Sample Values (one example per non-empty column):
%s

Note: Columns not listed in sample values are empty (no data in sample rows).

## Instructions:
1. Map each CSV column to a database field, or null if it should be skipped
2. Provide a confidence score (0.0-1.0):
   - 1.0: Exact name match or unambiguous
   - 0.8-0.99: Very likely match
   - 0.5-0.79: Probable match with some ambiguity
   - 0.1-0.49: Uncertain, needs human review
   - 0.0: No reasonable mapping, should be skipped
3. For columns without sample data, use the column name semantically
4. Only use database fields from the schema; do not invent new fields

Return ONLY valid JSON in this exact format (no markdown, no explanation):
{"mappings": [{"csv_column": "Company Name", "db_field": "name", "confidence": 0.95, "reasoning": "Direct match"}]}`

func buildPrompt(m *Module, headers []string, samples [][]string) (string, error) {
	schema, err := json.MarshalIndent(m.SchemaDoc(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("importer: encode schema: %w", err)
	}
	hdrs, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("importer: encode headers: %w", err)
	}
	var lines []string
	for i, h := range headers {
		for _, row := range samples {
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				lines = append(lines, fmt.Sprintf("  %s: %q", h, row[i]))
				break
			}
		}
	}
	sample := "(no sample data)"
	if len(lines) > 0 {
		sample = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(promptTemplate, m.Name, schema, len(headers), hdrs, sample), nil
}

type completionReply struct {
	Mappings []struct {
		Column     string   `json:"csv_column"`
		Field      *string  `json:"db_field"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	} `json:"mappings"`
}

func parseSuggestions(m *Module, headers []string, content string) []Suggestion {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var reply completionReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		out := make([]Suggestion, len(headers))
		for i, h := range headers {
			out[i] = Suggestion{Column: h, Reasoning: "AI response parsing failed: " + err.Error()}
		}
		return out
	}

	asked := make(map[string]bool, len(headers))
	for _, h := range headers {
		asked[h] = true
	}
	var out []Suggestion
	for _, r := range reply.Mappings {
		if !asked[r.Column] {
			continue
		}
		s := Suggestion{Column: r.Column, Confidence: 0.5, Reasoning: r.Reasoning}
		if r.Confidence != nil {
			s.Confidence = min(max(*r.Confidence, 0), 1)
		}
		if r.Field != nil {
			if _, ok := m.Field(*r.Field); ok {
				s.Field = r.Field
			} else {
				s.Confidence = 0
				s.Reasoning = fmt.Sprintf("Unknown field %q suggested", *r.Field)
			}
		}
		delete(asked, r.Column)
		out = append(out, s)
	}
	for _, h := range headers {
		if asked[h] {
			out = append(out, Suggestion{Column: h, Reasoning: "No suggestion returned"})
		}
	}
	return out
}

// ProviderSource picks the provider for a company.
type ProviderSource interface {
	For(ctx context.Context, companyID string) Provider
}

// Registry picks the provider a company has configured.
type Registry struct {
	DB              *gorm.DB
	DefaultProvider string
	DefaultModel    string
	OpenAIKey       string
	AnthropicKey    string
	Log             *logrus.Entry
}

// For returns the provider for companyID: its ai_configs row when present,
// the configured default otherwise. Providers without an API key fall back
// to Builtin.
func (r *Registry) For(ctx context.Context, companyID string) Provider {
	name, model := r.DefaultProvider, r.DefaultModel
	if r.DB != nil {
		var cfg models.AIConfig
		err := r.DB.WithContext(ctx).Where("company_id = ? AND feature = ?", companyID, FeatureCSVMapping).
			First(&cfg).Error
		switch {
		case err == nil:
			name, model = cfg.Provider, cfg.ModelName
		case !errors.Is(err, gorm.ErrRecordNotFound) && r.Log != nil:
			r.Log.WithError(err).Warn("ai config lookup failed; using default provider")
		}
	}

	switch name {
	case ProviderOpenAI:
		if r.OpenAIKey != "" {
			return NewOpenAI(r.OpenAIKey, model)
		}
	case ProviderAnthropic:
		if r.AnthropicKey != "" {
			return NewAnthropic(r.AnthropicKey, model)
		}
	case ProviderBuiltin, "":
		return Builtin{}
	}
	if r.Log != nil {
		r.Log.WithFields(logrus.Fields{"company_id": companyID, "provider": name}).
			Warn("provider unavailable; using builtin")
	}
	return Builtin{}
}

func round2(f float64) float64 {
	return decimal.NewFromFloat(f).Round(2).InexactFloat64()
}
