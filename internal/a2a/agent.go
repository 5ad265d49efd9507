package a2a

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/zhengjr9/pocketchat/internal/chat"
)

// Runner runs one prompt to completion, delivering the answer to sink.
// *chat.Dispatcher satisfies it.
type Runner interface {
	Run(ctx context.Context, prompt string, sink chat.Sink) error
}

// AgentConfig holds the configuration for the chat-backed A2A agent.
type AgentConfig struct {
	// Name is the agent name exposed via A2A AgentCard.
	Name string
	// Description is exposed via A2A AgentCard.
	Description string
	// Dispatcher runs prompts on the active provider. Requests share the
	// device's single in-flight slot, so a busy device fails the invocation.
	Dispatcher Runner
}

// New returns an agent.Agent whose Run streams the active provider's answer
// as partial session.Events, one per coalesced fragment.
func New(cfg AgentConfig) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("a2a agent: Name must not be empty")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("a2a agent: Dispatcher must not be nil")
	}

	return agent.New(agent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		Run:         runFunc(cfg),
	})
}

// runFunc returns the Run closure that drives one agent invocation.
func runFunc(cfg AgentConfig) func(agent.InvocationContext) iter.Seq2[*session.Event, error] {
	return func(ctx agent.InvocationContext) iter.Seq2[*session.Event, error] {
		return func(yield func(*session.Event, error) bool) {
			query := extractQuery(ctx.UserContent())
			if query == "" {
				ev := session.NewEvent(ctx.InvocationID())
				ev.Author = cfg.Name
				ev.LLMResponse = model.LLMResponse{
					Content: textContent("(empty input)"),
				}
				yield(ev, nil)
				return
			}

			var fullText strings.Builder
			for fragment, err := range stream(ctx, cfg.Dispatcher, query) {
				if err != nil {
					yield(nil, fmt.Errorf("chat request failed: %w", err))
					return
				}
				fullText.WriteString(fragment)

				partialEv := session.NewEvent(ctx.InvocationID())
				partialEv.Author = cfg.Name
				partialEv.Branch = ctx.Branch()
				partialEv.LLMResponse = model.LLMResponse{
					Content: textContent(fragment),
					Partial: true,
				}
				if !yield(partialEv, nil) {
					return
				}
			}

			// The final non-partial event makes IsFinalResponse() true so the
			// runner closes the invocation.
			finalEv := session.NewEvent(ctx.InvocationID())
			finalEv.Author = cfg.Name
			finalEv.Branch = ctx.Branch()
			finalEv.LLMResponse = model.LLMResponse{
				Content: textContent(strings.TrimRight(fullText.String(), "\n")),
				Partial: false,
			}
			yield(finalEv, nil)
		}
	}
}

// stream runs prompt on r and yields each fragment as it is flushed, then a
// single error if the request failed. Stopping the iteration cancels the
// request.
func stream(ctx context.Context, r Runner, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		fragments := make(chan string)
		result := make(chan error, 1)
		go func() {
			defer close(fragments)
			result <- r.Run(ctx, prompt, chat.SinkFuncs{
				OnFragment: func(text string) {
					select {
					case fragments <- text:
					case <-ctx.Done():
					}
				},
			})
		}()

		for text := range fragments {
			if !yield(text, nil) {
				cancel()
				for range fragments {
				}
				return
			}
		}
		if err := <-result; err != nil {
			yield("", err)
		}
	}
}

// extractQuery pulls the plain-text content from the genai.Content that ADK
// puts in the InvocationContext when the caller sends a message.
func extractQuery(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// textContent wraps a string into a *genai.Content.
func textContent(text string) *genai.Content {
	return &genai.Content{
		Role:  genai.RoleModel,
		Parts: []*genai.Part{{Text: text}},
	}
}
