package sse

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
)

// Kind tags a classified line.
type Kind int

const (
	Noise Kind = iota
	Fragment
	Terminated
)

func (k Kind) String() string {
	switch k {
	case Fragment:
		return "fragment"
	case Terminated:
		return "terminated"
	}
	return "noise"
}

// Event is the result of classifying one line. Text is set only for Fragment
// and may be empty.
type Event struct {
	Kind Kind
	Text string
}

// deltaChunk is the part of an OpenAI-compatible stream chunk this package reads.
// Pointers distinguish a missing or null value from an empty one.
type deltaChunk struct {
	Choices []*struct {
		Delta *struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Classify turns a completed line into an Event. Only lines starting with
// "data: " matter; a payload containing [DONE] ends the stream; anything that
// does not resolve to choices[0].delta.content as a string is Noise.
func Classify(line string) Event {
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return Event{Kind: Noise}
	}
	if strings.Contains(payload, doneMarker) {
		return Event{Kind: Terminated}
	}

	var chunk deltaChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Event{Kind: Noise}
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0] == nil {
		return Event{Kind: Noise}
	}
	delta := chunk.Choices[0].Delta
	if delta == nil || delta.Content == nil {
		return Event{Kind: Noise}
	}
	return Event{Kind: Fragment, Text: *delta.Content}
}
