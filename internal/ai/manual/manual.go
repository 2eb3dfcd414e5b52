// Package manual lets a person act as the verification step from a terminal.
package manual

import (
	"context"
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"

	"github.com/spigell/hh-pricer/internal/ai"
)

const (
	PromptNone = "None of these"
	// humanConfidence is the confidence assigned to a human choice.
	humanConfidence = 1.0
)

// selector abstracts promptui.Select for tests.
type selector interface {
	Run() (int, string, error)
}

// Verifier asks the operator to pick a candidate.
type Verifier struct {
	newSelector func(label string, items []string) selector
}

func New() *Verifier {
	return &Verifier{
		newSelector: func(label string, items []string) selector {
			return &promptui.Select{Label: label, Items: items, Size: len(items)}
		},
	}
}

func (v *Verifier) ChooseBest(ctx context.Context, request string, candidates []ai.Candidate) (*ai.Verdict, error) {
	if len(candidates) == 0 {
		return nil, errors.New("at least one candidate is required")
	}

	items := make([]string, 0, len(candidates)+1)
	for _, c := range candidates {
		items = append(items, fmt.Sprintf("%s %s (%s, similarity %.2f)", c.ID, c.Title, c.Family, c.Similarity))
	}
	items = append(items, PromptNone)

	type answer struct {
		idx int
		err error
	}
	done := make(chan answer, 1)
	go func() {
		idx, _, err := v.newSelector(fmt.Sprintf("Which role matches %q?", firstLine(request)), items).Run()
		done <- answer{idx: idx, err: err}
	}()

	var res answer
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		return nil, fmt.Errorf("manual verification: %w", res.err)
	}

	if res.idx < 0 || res.idx >= len(candidates) {
		return &ai.Verdict{None: true, Confidence: humanConfidence, Rationale: "rejected by operator"}, nil
	}

	return &ai.Verdict{
		ChosenID:   candidates[res.idx].ID,
		Confidence: humanConfidence,
		Rationale:  "chosen by operator",
	}, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
