// Package guardrails implements the fixed, non-AI-controlled policy checks
// of the quest assistant.
//
// Two stages:
//   - input: the user's message before it reaches the prompt builder
//     (empty, max_length, prompt_injection)
//   - tool: decoded tool invocations before anything executes
//     (see Validator)
package guardrails

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/izik-adio/zik-back-sub000/internal/errs"
)

// ── Input Guardrails ────────────────────────────────────────

// CheckKind names an input check.
type CheckKind string

const (
	CheckEmpty           CheckKind = "empty"
	CheckMaxLength       CheckKind = "max_length"
	CheckPromptInjection CheckKind = "prompt_injection"
)

// CheckResult is the outcome of one input check.
type CheckResult struct {
	Kind    CheckKind `json:"kind"`
	Passed  bool      `json:"passed"`
	Message string    `json:"message,omitempty"`
}

// InputEvaluation aggregates every input check run against a message.
type InputEvaluation struct {
	Passed  bool          `json:"passed"`
	Results []CheckResult `json:"results"`
}

// InputPolicy configures the input stage.
type InputPolicy struct {
	// MaxCharacters bounds the message length in runes.
	MaxCharacters int
	// Sensitivity of prompt injection detection: "off", "medium" or "high".
	Sensitivity string
}

// Evaluate runs every input check against message.
func (p InputPolicy) Evaluate(message string) *InputEvaluation {
	eval := &InputEvaluation{Passed: true, Results: make([]CheckResult, 0, 3)}
	for _, result := range []CheckResult{
		evalEmpty(message),
		evalMaxLength(p.MaxCharacters, message),
		evalPromptInjection(p.Sensitivity, message),
	} {
		eval.Results = append(eval.Results, result)
		if !result.Passed {
			eval.Passed = false
		}
	}
	return eval
}

// Check returns a Validation error carrying the first failed check's
// message, or nil when the message may proceed.
func (p InputPolicy) Check(message string) error {
	eval := p.Evaluate(message)
	if eval.Passed {
		return nil
	}
	for _, r := range eval.Results {
		if !r.Passed {
			return errs.Validation("guardrails.input", r.Message)
		}
	}
	return nil
}

func evalEmpty(text string) CheckResult {
	if strings.TrimSpace(text) == "" {
		return CheckResult{Kind: CheckEmpty, Message: "Message must not be empty"}
	}
	return CheckResult{Kind: CheckEmpty, Passed: true}
}

// ── Max Length ───────────────────────────────────────────────

func evalMaxLength(maxChars int, text string) CheckResult {
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return CheckResult{Kind: CheckMaxLength, Message: "Message exceeds maximum character limit"}
	}
	return CheckResult{Kind: CheckMaxLength, Passed: true}
}

// ── Prompt Injection Detection ──────────────────────────────

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
	// Attempts to smuggle a tool call through the chat text.
	regexp.MustCompile(`(?i)"operation"\s*:\s*"(create|update|delete)"`),
}

var highSensitivityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)override\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)bypass\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)repeat\s+(your|the)\s+(system\s+)?(prompt|instructions?)\s+verbatim`),
}

func evalPromptInjection(sensitivity, text string) CheckResult {
	if sensitivity == "off" {
		return CheckResult{Kind: CheckPromptInjection, Passed: true}
	}

	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return CheckResult{Kind: CheckPromptInjection, Message: "Message was flagged by the safety filter"}
		}
	}
	if sensitivity == "high" {
		for _, re := range highSensitivityPatterns {
			if re.MatchString(text) {
				return CheckResult{Kind: CheckPromptInjection, Message: "Message was flagged by the safety filter"}
			}
		}
	}
	return CheckResult{Kind: CheckPromptInjection, Passed: true}
}
