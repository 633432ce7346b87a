package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"unicornio-backend/internal/queue"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingEmprendedorID indicates a message without a target record.
type ErrMissingEmprendedorID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingEmprendedorID) Error() string { return "missing emprendedor id" }

// ErrProcess indicates the job failed after successful parsing.
type ErrProcess struct {
	EmprendedorID string
	RequestID     string
	Err           error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process analysis job"
	}
	return "process analysis job: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the message can never succeed and
// should be removed from the queue.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingEmprendedorID
	)
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &missing)
}

// Runner executes one analysis job to completion.
type Runner interface {
	RunJob(ctx context.Context, msg queue.Message) error
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.EmprendedorID) == "" {
		return msg, meta, ErrMissingEmprendedorID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// HandleMessage parses a payload and runs the job it describes.
func HandleMessage(ctx context.Context, runner Runner, body string) (queue.Message, error) {
	if runner == nil {
		return queue.Message{}, errors.New("analysis runner not configured")
	}
	msg, _, err := ParseMessage(body)
	if err != nil {
		return msg, err
	}
	if err := runner.RunJob(ctx, msg); err != nil {
		return msg, ErrProcess{EmprendedorID: msg.EmprendedorID, RequestID: msg.RequestID, Err: err}
	}
	return msg, nil
}
