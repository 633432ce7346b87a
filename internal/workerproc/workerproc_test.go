package workerproc

import (
	"context"
	"errors"
	"testing"

	"unicornio-backend/internal/queue"
)

type runnerFunc func(ctx context.Context, msg queue.Message) error

func (f runnerFunc) RunJob(ctx context.Context, msg queue.Message) error { return f(ctx, msg) }

func TestParseMessage(t *testing.T) {
	if _, _, err := ParseMessage("  "); !Unrecoverable(err) {
		t.Fatalf("empty body should be unrecoverable, got %v", err)
	}
	if _, meta, err := ParseMessage("{bad"); !Unrecoverable(err) || meta.BodyLen != 4 || meta.BodySHA == "" {
		t.Fatalf("decode failure should be unrecoverable with meta, got %v %+v", err, meta)
	}
	_, _, err := ParseMessage(`{"requestId":"r1"}`)
	var missing ErrMissingEmprendedorID
	if !errors.As(err, &missing) || missing.RequestID != "r1" {
		t.Fatalf("expected missing id error, got %v", err)
	}
	msg, _, err := ParseMessage(`{"emprendedorId":"e1","requestId":"r1","version":1}`)
	if err != nil || msg.EmprendedorID != "e1" {
		t.Fatalf("unexpected parse %+v %v", msg, err)
	}
}

func TestHandleMessageRunsJob(t *testing.T) {
	var got queue.Message
	msg, err := HandleMessage(context.Background(), runnerFunc(func(_ context.Context, m queue.Message) error {
		got = m
		return nil
	}), `{"emprendedorId":"e1","requestId":"r1"}`)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got.EmprendedorID != "e1" || msg.RequestID != "r1" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestHandleMessageWrapsRunnerError(t *testing.T) {
	boom := errors.New("db down")
	_, err := HandleMessage(context.Background(), runnerFunc(func(context.Context, queue.Message) error {
		return boom
	}), `{"emprendedorId":"e1"}`)
	var procErr ErrProcess
	if !errors.As(err, &procErr) || procErr.EmprendedorID != "e1" || !errors.Is(err, boom) {
		t.Fatalf("expected ErrProcess wrapping boom, got %v", err)
	}
	if Unrecoverable(err) {
		t.Fatalf("runner failures must be retried")
	}
}
