package poller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultDeadline = 60 * time.Second

	MsgTimedOut = "El análisis está tardando más de lo esperado. Consulta el informe de nuevo más tarde."
)

// State is the poller lifecycle: idle, then polling, then one terminal state.
type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether s ends a poll.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// Status is one response from the report query endpoint.
type Status struct {
	HTTPStatus int             `json:"-"`
	Success    bool            `json:"success"`
	Estado     string          `json:"estado,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	Detalles   json.RawMessage `json:"detalles,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ErrorText returns the most specific failure description in s.
func (s Status) ErrorText() string {
	if len(s.Detalles) > 0 && string(s.Detalles) != "null" {
		var text string
		if err := json.Unmarshal(s.Detalles, &text); err == nil {
			if strings.TrimSpace(text) != "" {
				return text
			}
		} else {
			return string(s.Detalles)
		}
	}
	if s.Error != "" {
		return s.Error
	}
	return s.Message
}

func (s Status) hasData() bool {
	return len(s.Data) > 0 && string(s.Data) != "null"
}

// Fetcher performs one status query.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (Status, error)
}

// Result is the outcome of a poll.
type Result struct {
	State    State
	Data     json.RawMessage
	Message  string
	Attempts int
}

// Poller queries a report until it reaches a terminal state or the deadline
// passes. Queries never overlap: the next one is scheduled Interval after the
// previous response.
type Poller struct {
	Fetcher  Fetcher
	Interval time.Duration
	Deadline time.Duration
	// OnStatus, if set, observes every successful response.
	OnStatus func(Status)
	// OnError, if set, observes transient fetch errors.
	OnError func(error)

	mu    sync.Mutex
	state State
}

// New returns a Poller with the default interval and deadline.
func New(f Fetcher) *Poller {
	return &Poller{Fetcher: f, Interval: DefaultInterval, Deadline: DefaultDeadline, state: StateIdle}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == "" {
		return StateIdle
	}
	return p.state
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Poll runs until a terminal state, the deadline, or ctx cancellation. On
// cancellation it returns ctx.Err() and the poller goes back to idle. No
// query is issued after Poll returns.
func (p *Poller) Poll(ctx context.Context, id string) (Result, error) {
	if p.Fetcher == nil {
		return Result{State: StateIdle}, errors.New("poller: fetcher required")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := p.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	p.setState(StatePolling)
	attempts := 0
	for {
		attempts++
		status, err := p.Fetcher.Fetch(pollCtx, id)
		if pollCtx.Err() != nil {
			return p.stop(ctx, attempts)
		}
		if err != nil {
			if p.OnError != nil {
				p.OnError(err)
			}
		} else {
			if p.OnStatus != nil {
				p.OnStatus(status)
			}
			switch {
			case !status.Success:
				p.setState(StateFailed)
				return Result{State: StateFailed, Message: status.ErrorText(), Attempts: attempts}, nil
			case status.hasData():
				p.setState(StateCompleted)
				return Result{State: StateCompleted, Data: status.Data, Attempts: attempts}, nil
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			return p.stop(ctx, attempts)
		case <-timer.C:
		}
	}
}

func (p *Poller) stop(parent context.Context, attempts int) (Result, error) {
	if err := parent.Err(); err != nil {
		p.setState(StateIdle)
		return Result{State: StateIdle, Attempts: attempts}, err
	}
	p.setState(StateTimedOut)
	return Result{State: StateTimedOut, Message: MsgTimedOut, Attempts: attempts}, nil
}
