package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook runs around every Handle call. BeforeHandle may replace the context
// and payload; an error from it skips the handler and counts as a failed attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, km kafka.Message, data []byte) (context.Context, []byte, error)
	AfterHandle(ctx context.Context, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, km kafka.Message, data []byte, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ kafka.Message, data []byte) (context.Context, []byte, error) {
	return ctx, data, nil
}

func (NoopHook) AfterHandle(context.Context, kafka.Message, []byte, error) {}

func (NoopHook) OnError(context.Context, kafka.Message, []byte, error) {}

// HookFuncs adapts plain functions. Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, kafka.Message, []byte) (context.Context, []byte, error)
	After  func(context.Context, kafka.Message, []byte, error)
	Err    func(context.Context, kafka.Message, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, km kafka.Message, data []byte) (context.Context, []byte, error) {
	if h.Before == nil {
		return ctx, data, nil
	}
	return h.Before(ctx, km, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, km kafka.Message, data []byte, err error) {
	if h.After != nil {
		h.After(ctx, km, data, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, km kafka.Message, data []byte, err error) {
	if h.Err != nil {
		h.Err(ctx, km, data, err)
	}
}

// HookChain applies hooks in order before handling and in reverse order after.
// A panicking hook is turned into an error and never reaches the consumer.
type HookChain []ConsumerHook

func NewHookChain(hooks ...ConsumerHook) HookChain {
	out := make(HookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (c HookChain) BeforeHandle(ctx context.Context, km kafka.Message, data []byte) (context.Context, []byte, error) {
	for _, h := range c {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("hook panic: %v", r)
				}
			}()
			ctx, data, err = h.BeforeHandle(ctx, km, data)
		}()
		if err != nil {
			return ctx, data, err
		}
	}
	return ctx, data, nil
}

func (c HookChain) AfterHandle(ctx context.Context, km kafka.Message, data []byte, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		func() {
			defer func() { _ = recover() }()
			c[i].AfterHandle(ctx, km, data, err)
		}()
	}
}

func (c HookChain) OnError(ctx context.Context, km kafka.Message, data []byte, err error) {
	for _, h := range c {
		func() {
			defer func() { _ = recover() }()
			h.OnError(ctx, km, data, err)
		}()
	}
}

type ctxKey string

const (
	ctxStartTime ctxKey = "kafka_start_time"
	ctxTraceID   ctxKey = "kafka_trace_id"
)

// TraceHook stores the handling start time and the trace_id header in the context.
func TraceHook() ConsumerHook {
	return HookFuncs{Before: func(ctx context.Context, km kafka.Message, data []byte) (context.Context, []byte, error) {
		ctx = context.WithValue(ctx, ctxStartTime, time.Now())
		for _, h := range km.Headers {
			if h.Key == "trace_id" && len(h.Value) > 0 {
				ctx = context.WithValue(ctx, ctxTraceID, string(h.Value))
				break
			}
		}
		return ctx, data, nil
	}}
}

// TraceID returns the trace id TraceHook found, if any.
func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(ctxTraceID).(string)
	return s
}

// StartTime returns when TraceHook saw the message, or the zero time.
func StartTime(ctx context.Context) time.Time {
	t, _ := ctx.Value(ctxStartTime).(time.Time)
	return t
}
