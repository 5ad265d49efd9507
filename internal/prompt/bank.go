// Package prompt holds the preset questions the device cycles through.
package prompt

import (
	"strings"
	"sync"
)

// DefaultSuffix is appended to every question sent upstream to keep answers
// short enough for the screen.
const DefaultSuffix = " Please keep it within 50 words."

// DefaultQuestions returns the built-in question list.
func DefaultQuestions() []string {
	return []string{
		"Introduce yourself in 50 words (English).",
		"Tell a short joke about AI.",
		"Explain what is ESP32 in one sentence.",
		"Write a 4-line poem about the moon.",
		"What is the latest version of LVGL?",
	}
}

// Bank is a cyclic list of questions with a current position.
type Bank struct {
	mu        sync.Mutex
	questions []string
	current   int
	suffix    string
}

// NewBank copies questions, dropping blank ones. An empty list falls back to
// DefaultQuestions.
func NewBank(questions []string, suffix string) *Bank {
	qs := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			qs = append(qs, q)
		}
	}
	if len(qs) == 0 {
		qs = DefaultQuestions()
	}
	return &Bank{questions: qs, suffix: suffix}
}

func (b *Bank) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.questions[b.current]
}

// Next advances to the following question, wrapping at the end, and returns it.
func (b *Bank) Next() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = (b.current + 1) % len(b.questions)
	return b.questions[b.current]
}

// List returns a copy of the questions and the current index.
func (b *Bank) List() ([]string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.questions))
	copy(out, b.questions)
	return out, b.current
}

// Compose returns q with the suffix appended.
func (b *Bank) Compose(q string) string {
	return strings.TrimSpace(q) + b.suffix
}
