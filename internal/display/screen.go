package display

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Screen statuses.
const (
	StatusIdle     = "idle"
	StatusThinking = "thinking"
	StatusDone     = "done"
)

// State is what the chat screen shows.
type State struct {
	Ask      string `json:"ask"`
	Answer   string `json:"answer"`
	Status   string `json:"status"`
	Provider string `json:"provider"`
}

// Update kinds.
const (
	UpdateAsk      = "ask"
	UpdateAnswer   = "answer"
	UpdateAppend   = "append"
	UpdateStatus   = "status"
	UpdateProvider = "provider"
)

// Update is one change to the screen, as seen by subscribers. For UpdateAppend
// Text is the appended text; for the others it is the new value.
type Update struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

const subscriberBuffer = 64

// Screen holds the chat screen's text areas. Every read and write goes through
// Lock, the same lock background workers contend for.
type Screen struct {
	lock *Lock

	ask      string
	answer   strings.Builder
	status   string
	provider string

	subMu  sync.Mutex
	subs   map[int]chan Update
	nextID int
}

func NewScreen(lock *Lock) *Screen {
	if lock == nil {
		lock = NewLock()
	}
	return &Screen{lock: lock, status: StatusIdle, subs: make(map[int]chan Update)}
}

// Lock returns the lock guarding the screen.
func (s *Screen) Lock() *Lock { return s.lock }

// Edit runs fn with the lock held, waiting as long as ctx allows.
func (s *Screen) Edit(ctx context.Context, fn func(e *Editor)) error {
	return s.lock.With(ctx, func() { fn(&Editor{s: s}) })
}

// TryEdit runs fn if the lock can be taken within d and reports whether it ran.
func (s *Screen) TryEdit(d time.Duration, fn func(e *Editor)) bool {
	if !s.lock.TryAcquireFor(d) {
		return false
	}
	defer s.lock.Release()
	fn(&Editor{s: s})
	return true
}

// Snapshot returns the current screen contents.
func (s *Screen) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := s.Edit(ctx, func(e *Editor) { st = e.State() })
	return st, err
}

// Subscribe returns a channel of updates and a function that unsubscribes.
// Updates are dropped for a subscriber whose buffer is full.
func (s *Screen) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Screen) publish(u Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Editor mutates a Screen whose lock is held. It must not escape the callback
// it was handed to.
type Editor struct {
	s *Screen
}

func (e *Editor) State() State {
	return State{
		Ask:      e.s.ask,
		Answer:   e.s.answer.String(),
		Status:   e.s.status,
		Provider: e.s.provider,
	}
}

func (e *Editor) Ask() string { return e.s.ask }

func (e *Editor) SetAsk(text string) {
	e.s.ask = text
	e.s.publish(Update{Kind: UpdateAsk, Text: text})
}

// SetAnswer replaces the answer text; an empty string clears it.
func (e *Editor) SetAnswer(text string) {
	e.s.answer.Reset()
	e.s.answer.WriteString(text)
	e.s.publish(Update{Kind: UpdateAnswer, Text: text})
}

func (e *Editor) ClearAnswer() { e.SetAnswer("") }

func (e *Editor) AppendAnswer(text string) {
	if text == "" {
		return
	}
	e.s.answer.WriteString(text)
	e.s.publish(Update{Kind: UpdateAppend, Text: text})
}

func (e *Editor) SetStatus(status string) {
	e.s.status = status
	e.s.publish(Update{Kind: UpdateStatus, Text: status})
}

func (e *Editor) SetProvider(name string) {
	e.s.provider = name
	e.s.publish(Update{Kind: UpdateProvider, Text: name})
}
