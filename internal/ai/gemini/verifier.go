package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/ai"
	"github.com/spigell/hh-pricer/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, prompt string) (string, error)
}

// Verifier asks Gemini to choose the best canonical role among candidates.
type Verifier struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	systemInstruction   = "You are a compensation analyst. Answer strictly with the requested JSON."
)

func NewVerifier(generator contentGenerator, maxLogLength int, logger *zap.Logger) *Verifier {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Verifier{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

type candidatePayload struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Family      string  `json:"family,omitempty"`
	Description string  `json:"description,omitempty"`
	Similarity  float64 `json:"similarity"`
}

func (v *Verifier) ChooseBest(ctx context.Context, request string, candidates []ai.Candidate) (*ai.Verdict, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, errors.New("request text is required")
	}
	if len(candidates) == 0 {
		return nil, errors.New("at least one candidate is required")
	}

	payload := make([]candidatePayload, 0, len(candidates))
	for _, c := range candidates {
		payload = append(payload, candidatePayload{
			ID:          c.ID,
			Title:       c.Title,
			Family:      c.Family,
			Description: c.Description,
			Similarity:  math.Round(c.Similarity*1000) / 1000,
		})
	}

	candidatesJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal candidates payload: %w", err)
	}

	prompt := buildPrompt(request, string(candidatesJSON))

	v.logger.Debug("gemini verification request",
		zap.Int("candidates", len(candidates)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, v.maxLogLen)),
	)

	raw, err := v.generator.GenerateContent(ctx, systemInstruction, prompt)
	if err != nil {
		return nil, err
	}

	v.logger.Debug("gemini verification response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, v.maxLogLen)),
	)

	verdict, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	if !verdict.None && !containsCandidate(candidates, verdict.ChosenID) {
		return nil, fmt.Errorf("gemini chose unknown candidate %q", verdict.ChosenID)
	}

	verdict.Raw = raw
	return verdict, nil
}

func containsCandidate(candidates []ai.Candidate, id string) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}

func buildPrompt(request, candidatesJSON string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Request:\n{{REQUEST}}\n\nCandidates:\n{{CANDIDATES_JSON}}\n\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{REQUEST}}", request)
	prompt = strings.ReplaceAll(prompt, "{{CANDIDATES_JSON}}", candidatesJSON)
	return prompt
}

func parseResponse(raw string) (*ai.Verdict, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	chosen := coerceString(data["chosen_id"])
	none := coerceBool(data["none"])
	confidence := coerceFloat(data["confidence"])
	rationale := coerceString(data["rationale"])

	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))

	// Only an explicit none rejects every candidate.
	if chosen == "" && !none {
		return nil, fmt.Errorf("gemini response names no candidate and no explicit none: %q", utils.TruncateForLog(cleaned, defaultMaxLogLength))
	}
	if none {
		chosen = ""
	}

	return &ai.Verdict{
		ChosenID:   chosen,
		None:       none,
		Confidence: confidence,
		Rationale:  rationale,
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
