package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookChainOrderAndPanics(t *testing.T) {
	var order []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ kafka.Message, d []byte) (context.Context, []byte, error) {
				order = append(order, "before:"+name)
				return ctx, append(d, name...), nil
			},
			After: func(context.Context, kafka.Message, []byte, error) { order = append(order, "after:"+name) },
		}
	}
	chain := NewHookChain(mk("a"), nil, mk("b"))

	_, data, err := chain.BeforeHandle(context.Background(), kafka.Message{}, []byte(">"))
	require.NoError(t, err)
	assert.Equal(t, ">ab", string(data))
	chain.AfterHandle(context.Background(), kafka.Message{}, data, nil)
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, order)

	boom := HookFuncs{Before: func(context.Context, kafka.Message, []byte) (context.Context, []byte, error) { panic("x") }}
	_, _, err = NewHookChain(boom).BeforeHandle(context.Background(), kafka.Message{}, nil)
	assert.ErrorContains(t, err, "hook panic")

	stop := HookFuncs{Before: func(ctx context.Context, _ kafka.Message, d []byte) (context.Context, []byte, error) {
		return ctx, d, errors.New("reject")
	}}
	_, _, err = NewHookChain(stop, mk("c")).BeforeHandle(context.Background(), kafka.Message{}, nil)
	assert.EqualError(t, err, "reject")
	assert.NotContains(t, order, "before:c")
}

func TestTraceHook(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, err := TraceHook().BeforeHandle(context.Background(), km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
	assert.False(t, StartTime(ctx).IsZero())
	assert.Empty(t, TraceID(context.Background()))
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt < 70; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	d := backoffWithJitter(10*time.Millisecond, time.Second, 1)
	assert.GreaterOrEqual(t, d, 5*time.Millisecond)
	assert.LessOrEqual(t, d, 10*time.Millisecond)
}

func TestEncode(t *testing.T) {
	b, err := encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))
	b, _ = encode("raw")
	assert.Equal(t, "raw", string(b))
	_, err = encode(make(chan int))
	assert.Error(t, err)
}
