package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/aegis/agent"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPoll(o *agent.Options) { o.PollInterval = 10 * time.Millisecond }

func echoAgent(id string) *agent.Base {
	return agent.New(id, core.HandlerFunc(func(_ context.Context, msg core.Message) (*core.Result, error) {
		return core.OK(core.Payload{"echo": msg.Type(), "by": id}), nil
	}), fastPoll)
}

type failingInit struct{}

func (failingInit) HandleMessage(context.Context, core.Message) (*core.Result, error) {
	return nil, nil
}

func (failingInit) Initialize(context.Context) error { return errors.New("no catalog") }

func TestEngine_RegisterRejectsDuplicates(t *testing.T) {
	eng := New()
	require.NoError(t, eng.Register(echoAgent("a"), echoAgent("b")))

	err := eng.Register(echoAgent("a"))
	assert.ErrorIs(t, err, ErrDuplicateAgent)

	err = eng.Register(echoAgent(ID))
	assert.ErrorIs(t, err, ErrDuplicateAgent, "engine id is reserved")

	ids := []string{}
	for _, a := range eng.Agents() {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestEngine_DirectoryReadOnlyAfterStart(t *testing.T) {
	eng := New()
	require.NoError(t, eng.Register(echoAgent("a")))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	assert.ErrorIs(t, eng.Register(echoAgent("late")), ErrStarted)
	assert.ErrorIs(t, eng.Start(context.Background()), ErrStarted)
}

func TestEngine_StartStop(t *testing.T) {
	var mu sync.Mutex
	var seen []CallbackType
	record := func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, cc.CallbackType)
		return nil
	}

	eng := New(func(o *Options) {
		o.Callbacks = []Callback{
			NewFunctionCallback(CallbackAgentStarted, record),
			NewFunctionCallback(CallbackAgentStopped, record),
		}
	})
	a, b := echoAgent("a"), echoAgent("b")
	require.NoError(t, eng.Register(a, b))

	require.NoError(t, eng.Start(context.Background()))
	assert.True(t, eng.Running())
	assert.Equal(t, map[string]bool{"a": true, "b": true}, eng.Liveness())

	require.NoError(t, eng.Stop(context.Background()))
	assert.False(t, a.Running())
	assert.False(t, b.Running())
	assert.ErrorIs(t, eng.Stop(context.Background()), ErrNotStarted)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 4)
}

func TestEngine_StartRollsBackOnFailure(t *testing.T) {
	eng := New()
	good := echoAgent("good")
	bad := agent.New("bad", failingInit{}, fastPoll)
	require.NoError(t, eng.Register(good, bad))

	err := eng.Start(context.Background())
	require.ErrorContains(t, err, "start bad")
	assert.False(t, eng.Running())
	assert.Eventually(t, func() bool { return !good.Running() }, time.Second, 10*time.Millisecond)
}

func TestEngine_Request(t *testing.T) {
	eng := New()
	require.NoError(t, eng.Register(echoAgent("a")))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	res, err := eng.Request(context.Background(), "a", "ping", core.Payload{"x": 1}, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ping", res.Data.String("echo"))

	_, err = eng.Request(context.Background(), "nobody", "ping", nil, time.Second)
	assert.ErrorIs(t, err, core.ErrUnknownRecipient)
}

func TestEngine_AgentsTalkThroughEngineTransport(t *testing.T) {
	eng := New()
	responder := echoAgent("responder")
	caller := agent.New("caller", core.HandlerFunc(func(ctx context.Context, msg core.Message) (*core.Result, error) {
		return nil, nil
	}), fastPoll)
	require.NoError(t, eng.Register(responder, caller))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	res, err := caller.Request(context.Background(), "responder", "status", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "responder", res.Data.String("by"))
}

func TestEngine_RemoteFallback(t *testing.T) {
	remote := testutil.NewRecorder("remote")
	eng := New(func(o *Options) { o.Remote = remote })

	require.NoError(t, eng.Publish(context.Background(), "elsewhere", "order_created", core.Payload{"order_id": "O1"}))
	msgs := remote.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ID, msgs[0].Sender)
	assert.Equal(t, "order_created", msgs[0].Type())
}

func TestEngine_DispatchCallbacks(t *testing.T) {
	var failures []error
	eng := New(func(o *Options) {
		o.Callbacks = []Callback{
			NewTypeValidationCallback("order_created"),
			NewFunctionCallback(CallbackDeliveryFailed, func(_ context.Context, cc *CallbackContext) error {
				failures = append(failures, cc.Err)
				return nil
			}),
		}
	})

	err := eng.Publish(context.Background(), "a", "cart_updated", nil)
	assert.ErrorIs(t, err, ErrRejected)

	err = eng.Dispatch(context.Background(), core.Message{Recipient: "a", Kind: core.KindEvent, Payload: core.Payload{}})
	assert.ErrorIs(t, err, ErrRejected)

	err = eng.Publish(context.Background(), "a", "order_created", nil)
	assert.ErrorIs(t, err, core.ErrUnknownRecipient)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], core.ErrUnknownRecipient)
}

func TestEngine_DispatchFillsEnvelope(t *testing.T) {
	remote := testutil.NewRecorder("remote")
	eng := New(func(o *Options) { o.Remote = remote })

	err := eng.Dispatch(context.Background(), core.Message{Recipient: "x", Kind: core.KindEvent, Payload: core.Payload{"type": "ping"}})
	require.NoError(t, err)

	msg := remote.Messages()[0]
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, ID, msg.Sender)
	assert.False(t, msg.CreatedAt.IsZero())

	err = eng.Dispatch(context.Background(), core.Message{Recipient: "x", Kind: "bogus"})
	assert.ErrorIs(t, err, core.ErrInvalidMessage)
}

func TestEngine_DropsUnsolicitedMessages(t *testing.T) {
	eng := New()
	msg := testutil.NewEvent("noise").To(ID).Build()
	assert.NoError(t, eng.Receive(context.Background(), msg))
}

func TestEngine_InboundStaysLocal(t *testing.T) {
	remote := testutil.NewRecorder("remote")
	eng := New(func(o *Options) { o.Remote = remote })
	require.NoError(t, eng.Register(echoAgent("a")))

	msg := testutil.NewEvent("ping").To("elsewhere").Build()
	err := eng.Inbound().Send(context.Background(), msg)
	assert.ErrorIs(t, err, core.ErrUnknownRecipient)
	assert.Empty(t, remote.Messages(), "inbound traffic is never forwarded")

	msg = testutil.NewEvent("ping").To("a").Build()
	assert.NoError(t, eng.Inbound().Send(context.Background(), msg))
}
