// Package validator checks candidate replies against hard conversational constraints.
package validator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/LeadPipe/internal/memory"
	"github.com/BTreeMap/LeadPipe/internal/signals"
)

// RuleSet holds the limits a reply is checked against.
type RuleSet struct {
	Name         string
	MaxChars     int
	MaxLines     int
	MaxQuestions int
}

var (
	// Normal applies to discovery and qualification turns.
	Normal = RuleSet{Name: "normal", MaxChars: 250, MaxLines: 3, MaxQuestions: 1}
	// Flex applies when proposing or closing, where the reply carries more detail.
	Flex = RuleSet{Name: "flex", MaxChars: 400, MaxLines: 5, MaxQuestions: 2}
)

// MinContentRunes is the minimum number of non-emoji, non-space runes in a reply.
const MinContentRunes = 5

var bannedPhrases = []string{
	"espero haberte ayudado",
	"estoy aquí para ayudarte",
	"¿hay algo más",
	"es un placer",
	"no dudes en",
}

// PhaseContext selects the rule set for a reply.
type PhaseContext struct {
	Phase              memory.Phase
	InterventionMoment bool
}

// ContextFor derives the phase context from a state.
func ContextFor(s memory.State) PhaseContext {
	return PhaseContext{Phase: s.Phase, InterventionMoment: s.InterventionMoment}
}

// Rules returns Flex for proposal, closing and intervention turns and Normal otherwise.
func (c PhaseContext) Rules() RuleSet {
	if c.InterventionMoment || c.Phase == memory.PhaseProposal || c.Phase == memory.PhaseClosing {
		return Flex
	}
	return Normal
}

// Code identifies a violated constraint.
type Code string

const (
	CodeTooLong          Code = "too_long"
	CodeTooManyLines     Code = "too_many_lines"
	CodeTooManyQuestions Code = "too_many_questions"
	CodeEmpty            Code = "empty"
	CodeEmojiOnly        Code = "emoji_only"
	CodeBannedPhrase     Code = "banned_phrase"
)

// Violation is one failed constraint.
type Violation struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Limit   int    `json:"limit,omitempty"`
	Actual  int    `json:"actual,omitempty"`
}

// Result is the outcome of Validate. Warnings never make a reply invalid.
type Result struct {
	Valid    bool        `json:"valid"`
	Rules    string      `json:"rules"`
	Errors   []Violation `json:"errors,omitempty"`
	Warnings []Violation `json:"warnings,omitempty"`
}

// Err returns a *ValidationError when the reply was rejected.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Violations: r.Errors}
}

// ValidationError reports a reply that failed policy. It is retryable.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	codes := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		codes[i] = string(v.Code)
	}
	return "reply failed validation: " + strings.Join(codes, ", ")
}

// Retryable reports whether regenerating the reply may fix the violation.
func (e *ValidationError) Retryable() bool { return true }

// Validate checks reply against the rule set selected by ctx.
func Validate(reply string, ctx PhaseContext) Result {
	rules := ctx.Rules()
	res := Result{Rules: rules.Name}

	if strings.TrimSpace(reply) == "" {
		res.Errors = append(res.Errors, Violation{Code: CodeEmpty, Message: "la respuesta está vacía"})
		return res
	}

	if n := utf8.RuneCountInString(reply); n > rules.MaxChars {
		res.Errors = append(res.Errors, Violation{
			Code: CodeTooLong, Limit: rules.MaxChars, Actual: n,
			Message: fmt.Sprintf("excede %d caracteres (tiene %d)", rules.MaxChars, n),
		})
	}
	if n := countLines(reply); n > rules.MaxLines {
		res.Errors = append(res.Errors, Violation{
			Code: CodeTooManyLines, Limit: rules.MaxLines, Actual: n,
			Message: fmt.Sprintf("tiene %d líneas (máximo %d)", n, rules.MaxLines),
		})
	}
	if n := strings.Count(reply, "?"); n > rules.MaxQuestions {
		res.Errors = append(res.Errors, Violation{
			Code: CodeTooManyQuestions, Limit: rules.MaxQuestions, Actual: n,
			Message: fmt.Sprintf("tiene %d preguntas (máximo %d)", n, rules.MaxQuestions),
		})
	}
	if n := contentRunes(reply); n < MinContentRunes {
		res.Errors = append(res.Errors, Violation{
			Code: CodeEmojiOnly, Limit: MinContentRunes, Actual: n,
			Message: "la respuesta no tiene texto suficiente, solo emojis o símbolos",
		})
	}

	normalized := signals.Normalize(reply)
	for _, p := range bannedPhrases {
		if strings.Contains(normalized, signals.Normalize(p)) {
			res.Warnings = append(res.Warnings, Violation{
				Code:    CodeBannedPhrase,
				Message: fmt.Sprintf("usa la frase de venta genérica %q", p),
			})
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// Correction renders a rejected result as an instruction for the next generation attempt.
func Correction(r Result) string {
	if r.Valid {
		return ""
	}
	var b strings.Builder
	b.WriteString("Tu respuesta anterior no cumple las reglas:\n")
	for _, v := range r.Errors {
		fmt.Fprintf(&b, "- %s\n", v.Message)
	}
	for _, v := range r.Warnings {
		fmt.Fprintf(&b, "- %s\n", v.Message)
	}
	b.WriteString("Reescríbela más corta y natural, con una sola pregunta y sin markdown.")
	return b.String()
}

func countLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// contentRunes counts runes that are neither emoji, symbols, joiners nor whitespace.
func contentRunes(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case unicode.IsSpace(r),
			unicode.In(r, unicode.So, unicode.Sk, unicode.Cf, unicode.Mn),
			r >= 0x1F000 && r <= 0x1FAFF:
			continue
		}
		n++
	}
	return n
}
