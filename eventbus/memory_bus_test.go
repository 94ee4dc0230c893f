package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/linksync/log"
)

func TestInProcessBus_EmitWithoutSubscribers(t *testing.T) {
	bus := NewInProcessBus(nil)
	assert.False(t, bus.Emit(context.Background(), AgencyCreated, AgencyCreatedPayload{AgencyID: "a1"}, "test", ""))
	assert.NoError(t, bus.EmitAsync(context.Background(), AgencyCreated, nil, "test", ""))
}

func TestInProcessBus_EmitSwallowsHandlerErrors(t *testing.T) {
	bus := NewInProcessBus(nil)
	var calls []string
	bus.Subscribe(AgencyCreated, "failing", func(ctx context.Context, ev EmittedEvent) error {
		calls = append(calls, "failing")
		return errors.New("boom")
	})
	bus.Subscribe(AgencyCreated, "panicking", func(ctx context.Context, ev EmittedEvent) error {
		calls = append(calls, "panicking")
		panic("bad handler")
	})
	bus.Subscribe(AgencyCreated, "ok", func(ctx context.Context, ev EmittedEvent) error {
		calls = append(calls, "ok")
		return nil
	})

	delivered := bus.Emit(context.Background(), AgencyCreated, AgencyCreatedPayload{AgencyID: "a1"}, "test", "")
	assert.True(t, delivered)
	assert.Equal(t, []string{"failing", "panicking", "ok"}, calls)
}

func TestInProcessBus_EmitAsyncPropagatesErrors(t *testing.T) {
	bus := NewInProcessBus(nil)
	var okCalls atomic.Int32
	bus.Subscribe(AgenciesMerged, "ok", func(ctx context.Context, ev EmittedEvent) error {
		okCalls.Add(1)
		return nil
	})
	bus.Subscribe(AgenciesMerged, "failing", func(ctx context.Context, ev EmittedEvent) error {
		return errors.New("link merge failed")
	})

	err := bus.EmitAsync(context.Background(), AgenciesMerged, AgenciesMergedPayload{TargetAgencyID: "a1"}, "test", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler failing")
	assert.Contains(t, err.Error(), "link merge failed")
	assert.Equal(t, int32(1), okCalls.Load(), "healthy handlers still run to completion")
}

func TestInProcessBus_EmitAsyncRunsHandlersConcurrently(t *testing.T) {
	bus := NewInProcessBus(nil)
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	for _, name := range []string{"first", "second"} {
		bus.Subscribe(AgencyCreated, name, func(ctx context.Context, ev EmittedEvent) error {
			started.Done()
			<-release
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- bus.EmitAsync(context.Background(), AgencyCreated, nil, "test", "") }()

	// Both handlers must be running at the same time before either is released.
	waited := make(chan struct{})
	go func() { started.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers were not started concurrently")
	}
	close(release)
	require.NoError(t, <-done)
}

func TestInProcessBus_CorrelationIDPropagation(t *testing.T) {
	bus := NewInProcessBus(nil)
	var first, second EmittedEvent
	var secondCtxID string
	bus.Subscribe(UserGoogleAccountsDataUpdated, "chain", func(ctx context.Context, ev EmittedEvent) error {
		first = ev
		return bus.EmitAsync(ctx, AgencyCheckedAfterGoogleAccountDataUpdated, AgencyCheckedPayload{AgencyID: "a1"}, "chain", ev.CorrelationID)
	})
	bus.Subscribe(AgencyCheckedAfterGoogleAccountDataUpdated, "sink", func(ctx context.Context, ev EmittedEvent) error {
		second = ev
		secondCtxID = log.CorrelationID(ctx)
		return nil
	})

	require.NoError(t, bus.EmitAsync(context.Background(), UserGoogleAccountsDataUpdated, UserPayload{UserID: "u1"}, "oauth", ""))
	require.NotEmpty(t, first.CorrelationID, "a fresh correlation id is generated")
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.Equal(t, first.CorrelationID, secondCtxID)
	assert.Equal(t, "oauth", first.Source)
	assert.Equal(t, UserGoogleAccountsDataUpdated, first.Type)
	assert.False(t, first.Timestamp.IsZero())
}

func TestInProcessBus_CorrelationIDFromContext(t *testing.T) {
	bus := NewInProcessBus(nil)
	var got string
	bus.Subscribe(AgencyCreated, "sink", func(ctx context.Context, ev EmittedEvent) error {
		got = ev.CorrelationID
		return nil
	})
	ctx := log.WithCorrelationID(context.Background(), "from-ctx")
	bus.Emit(ctx, AgencyCreated, nil, "test", "")
	assert.Equal(t, "from-ctx", got)

	bus.Emit(ctx, AgencyCreated, nil, "test", "explicit")
	assert.Equal(t, "explicit", got)
}

func TestInProcessBus_Unsubscribe(t *testing.T) {
	bus := NewInProcessBus(nil)
	var calls int
	sub := bus.Subscribe(AgencyCreated, "counter", func(ctx context.Context, ev EmittedEvent) error {
		calls++
		return nil
	})
	bus.Emit(context.Background(), AgencyCreated, nil, "test", "")
	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.False(t, bus.Emit(context.Background(), AgencyCreated, nil, "test", ""))
	assert.Equal(t, 1, calls)
}

func TestDecodePayload(t *testing.T) {
	ev := EmittedEvent{Type: AgencyCreated, Payload: AgencyCreatedPayload{AgencyID: "a1", UserID: "u1"}}
	p, err := DecodePayload[AgencyCreatedPayload](ev)
	require.NoError(t, err)
	assert.Equal(t, "a1", p.AgencyID)

	ev.Payload = &AgencyCreatedPayload{AgencyID: "a2"}
	p, err = DecodePayload[AgencyCreatedPayload](ev)
	require.NoError(t, err)
	assert.Equal(t, "a2", p.AgencyID)

	ev.Payload = UserPayload{UserID: "u1"}
	_, err = DecodePayload[AgencyCreatedPayload](ev)
	assert.Error(t, err)
}
