package tally

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"

	doneSentinel = "[DONE]"
)

// ErrStreamIncomplete is returned by Collect when the stream ends without a result.
var ErrStreamIncomplete = errors.New("resume stream ended without a result")

// Event is one decoded message of a parsing stream.
type Event interface {
	EventName() string
}

type ProgressEvent struct {
	Step      string `json:"step"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (*ProgressEvent) EventName() string { return EventProgress }

type CompleteEvent struct {
	Success bool     `json:"success"`
	Profile *Profile `json:"profile"`
	Resume  *Resume  `json:"resume"`
	Message string   `json:"message"`
}

func (*CompleteEvent) EventName() string { return EventComplete }

type ErrorEvent struct {
	Message string `json:"error"`
}

func (*ErrorEvent) EventName() string { return EventError }

// EventStream reads server-sent events. It is finite and cannot be restarted.
type EventStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	logger *zap.Logger

	name string
	data []string
	done bool

	closeOnce sync.Once
	closeErr  error
}

// NewEventStream wraps body. Payloads are {"event": name, "data": {...}}; an
// event field line takes precedence over the name inside the payload.
func NewEventStream(body io.ReadCloser, logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventStream{
		body:   body,
		reader: bufio.NewReader(body),
		logger: logger,
	}
}

// Next returns the next event in arrival order, or io.EOF once the stream is exhausted.
// Malformed payloads are skipped.
func (s *EventStream) Next() (Event, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			s.finish()
			return nil, err
		}
		eof := err != nil

		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			s.field(line)
		}

		if line == "" || eof {
			if ev := s.dispatch(); ev != nil {
				if eof {
					s.finish()
				}
				return ev, nil
			}
		}

		if eof {
			s.finish()
			return nil, io.EOF
		}
	}
}

// Close releases the underlying body. It is safe to call more than once.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// Collect drains the stream until the result arrives. onProgress may be nil.
func (s *EventStream) Collect(onProgress func(*ProgressEvent)) (*ParseResult, error) {
	defer s.Close()

	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil, ErrStreamIncomplete
		}
		if err != nil {
			return nil, err
		}

		switch e := ev.(type) {
		case *ProgressEvent:
			if onProgress != nil {
				onProgress(e)
			}
		case *CompleteEvent:
			if !e.Success || e.Profile == nil {
				return nil, incompleteParse(e.Success, e.Message)
			}
			return &ParseResult{
				Success: true,
				Profile: e.Profile,
				Resume:  e.Resume,
				Message: e.Message,
			}, nil
		case *ErrorEvent:
			return nil, &ParseError{Message: e.Message}
		}
	}
}

func (s *EventStream) finish() {
	s.done = true
	s.Close()
}

func (s *EventStream) field(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}

	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch name {
	case "data":
		s.data = append(s.data, value)
	case "event":
		s.name = value
	}
}

func (s *EventStream) dispatch() Event {
	name := s.name
	payload := strings.Join(s.data, "\n")
	s.name, s.data = "", nil

	if payload == "" || payload == doneSentinel {
		return nil
	}

	var envelope struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		s.logger.Debug("skipping malformed stream payload", zap.Error(err))
		return nil
	}

	if name == "" {
		name = envelope.Event
	}

	ev, err := decodeEvent(name, envelope.Data)
	if err != nil {
		s.logger.Debug("skipping stream event", zap.String("event", name), zap.Error(err))
		return nil
	}

	return ev
}

func decodeEvent(name string, data map[string]any) (Event, error) {
	var ev Event
	switch name {
	case EventProgress:
		ev = &ProgressEvent{}
	case EventComplete:
		ev = &CompleteEvent{}
	case EventError:
		ev = &ErrorEvent{}
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           ev,
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(data); err != nil {
		return nil, err
	}

	return ev, nil
}
