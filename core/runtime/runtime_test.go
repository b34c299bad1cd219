package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/conveyr/adapters/clock"
	"github.com/artpar/conveyr/adapters/idgen"
	"github.com/artpar/conveyr/adapters/metrics"
	"github.com/artpar/conveyr/core/action"
	"github.com/artpar/conveyr/core/events"
	"github.com/artpar/conveyr/core/registry"
	"github.com/artpar/conveyr/core/resolver"
	"github.com/artpar/conveyr/core/schema"
	"github.com/artpar/conveyr/core/service"
	"github.com/artpar/conveyr/core/store"
	"github.com/artpar/conveyr/core/types"
)

func newRuntime() *Runtime {
	return New(Config{
		Logger:   zerolog.Nop(),
		TokenIDs: idgen.NewSequential("tok_"),
	})
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

type view struct{ refreshes int }

func (v *view) ForceUpdate() { v.refreshes++ }

func TestCounterScenario(t *testing.T) {
	rt := newRuntime()

	sb, err := rt.CreateStore("counts")
	require.NoError(t, err)
	counts, err := sb.DefinesField("count", schema.Primitive{Kind: types.Number}).Build()
	require.NoError(t, err)

	svcB, err := rt.CreateService("counter")
	require.NoError(t, err)
	counter, err := svcB.
		UpdatesStores(counts).
		ExposesEndpoint("increment", func(f *service.Frame) error {
			by := f.Payload().(float64)
			return f.Update("counts", "count", func(v any) any { return v.(float64) + by })
		}, "context", "payload").
		Build()
	require.NoError(t, err)

	ep, err := counter.Endpoint("increment")
	require.NoError(t, err)

	ab, err := rt.CreateAction("increment")
	require.NoError(t, err)
	_, err = ab.
		AcceptsPayload(schema.Primitive{Kind: types.Number}).
		CallsEndpoint(ep, func(p any) (any, error) { return float64(p.(int)), nil }).
		Build()
	require.NoError(t, err)

	field, err := counts.Field("count")
	require.NoError(t, err)
	v := &view{}
	field.Subscribe(v)

	for i := 0; i < 3; i++ {
		inv, err := rt.Invoke(waitCtx(t), "increment", 2)
		require.NoError(t, err)
		require.NoError(t, inv.Wait(waitCtx(t)))
	}

	value, rev := field.Get()
	assert.Equal(t, float64(6), value)
	assert.Equal(t, uint64(3), rev)
	assert.Equal(t, 3, v.refreshes)

	_, err = rt.Invoke(waitCtx(t), "increment", "two")
	assert.ErrorIs(t, err, schema.ErrPayloadValidationFailed)
	assert.Equal(t, uint64(3), field.Revision())
}

func TestServiceWithoutStoreIsDenied(t *testing.T) {
	rt := newRuntime()

	sb, err := rt.CreateStore("counts")
	require.NoError(t, err)
	_, err = sb.DefinesField("count", schema.Primitive{Kind: types.Number}).Build()
	require.NoError(t, err)

	st, err := rt.Store("counts")
	require.NoError(t, err)

	svcB, err := rt.CreateService("rogue")
	require.NoError(t, err)
	rogue, err := svcB.ExposesEndpoint("poke", func(f *service.Frame) error {
		field, err := st.Field("count")
		if err != nil {
			return err
		}
		return field.Update(f.Token(), func(v any) any { return v })
	}, "token").Build()
	require.NoError(t, err)

	err = rogue.Invoke(waitCtx(t), "poke", "", nil, nil).Wait(waitCtx(t))
	assert.ErrorIs(t, err, store.ErrWriteAccessDenied)
}

func TestBuilderErrors(t *testing.T) {
	rt := newRuntime()

	_, err := rt.CreateStore("a:b")
	assert.ErrorIs(t, err, registry.ErrIllegalID)

	_, err = rt.CreateAction("")
	assert.ErrorIs(t, err, registry.ErrEmptyID)

	svcB, err := rt.CreateService("empty")
	require.NoError(t, err)
	_, err = svcB.Build()
	assert.ErrorIs(t, err, service.ErrNotEnoughEndpoints)

	ab, err := rt.CreateAction("nothing")
	require.NoError(t, err)
	_, err = ab.Build()
	assert.ErrorIs(t, err, action.ErrNotEnoughCallTargets)

	ab, err = rt.CreateAction("badref")
	require.NoError(t, err)
	_, err = ab.CallsRef("nope", nil).Build()
	assert.ErrorIs(t, err, action.ErrInvalidEndpoint)

	ab, err = rt.CreateAction("badformat")
	require.NoError(t, err)
	_, err = ab.AcceptsPayload(schema.FieldMap{}).CallsRef("x.y", nil).Build()
	assert.ErrorIs(t, err, action.ErrInvalidEndpoint)
}

func TestDuplicateIDs(t *testing.T) {
	rt := newRuntime()
	noop := func(*service.Frame) error { return nil }

	svcB, err := rt.CreateService("counter")
	require.NoError(t, err)
	_, err = svcB.ExposesEndpoint("increment", noop).Build()
	require.NoError(t, err)

	_, err = rt.CreateService("counter")
	assert.ErrorIs(t, err, registry.ErrDuplicateID)

	// a second builder reserved before the first registered loses at Build
	first, err := rt.CreateStore("counts")
	require.NoError(t, err)
	second, err := rt.CreateStore("counts")
	require.NoError(t, err)
	_, err = first.Build()
	require.NoError(t, err)
	_, err = second.Build()
	assert.ErrorIs(t, err, registry.ErrDuplicateID)
}

func TestEndpointRef(t *testing.T) {
	rt := newRuntime()
	noop := func(*service.Frame) error { return nil }

	svcB, err := rt.CreateService("counter")
	require.NoError(t, err)
	_, err = svcB.ExposesEndpointSpec("reset", resolver.Spec{NeedsToken: true}, noop).Build()
	require.NoError(t, err)

	ep, err := rt.Endpoint("counter.reset")
	require.NoError(t, err)
	assert.Equal(t, "counter.reset", ep.Ref())

	_, err = rt.Endpoint("counter")
	assert.ErrorIs(t, err, ErrInvalidRef)

	_, err = rt.Endpoint("missing.reset")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = rt.Endpoint("counter.missing")
	assert.ErrorIs(t, err, service.ErrNoSuchEndpoint)
}

func TestTwoTargetsOneFails(t *testing.T) {
	rt := newRuntime()
	boom := errors.New("boom")

	svcB, err := rt.CreateService("pair")
	require.NoError(t, err)
	_, err = svcB.
		ExposesEndpoint("ok", func(*service.Frame) error { return nil }).
		ExposesEndpoint("fail", func(f *service.Frame) error {
			go f.Done(boom)
			return nil
		}, "done").
		Build()
	require.NoError(t, err)

	ab, err := rt.CreateAction("both")
	require.NoError(t, err)
	_, err = ab.CallsRef("pair.ok", nil).CallsRef("pair.fail", nil).Build()
	require.NoError(t, err)

	inv, err := rt.Invoke(waitCtx(t), "both", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, inv.Wait(waitCtx(t)), boom)
}

func TestHandlerTimeoutIsReloadable(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rt := New(Config{Logger: zerolog.Nop(), Clock: fake, HandlerTimeout: time.Second})

	svcB, err := rt.CreateService("slow")
	require.NoError(t, err)
	svc, err := svcB.ExposesEndpoint("wait", func(*service.Frame) error { return nil }, "payload", "done").Build()
	require.NoError(t, err)
	assert.Equal(t, time.Second, svc.Timeout())

	rt.SetHandlerTimeout(10 * time.Second)
	assert.Equal(t, 10*time.Second, svc.Timeout())

	fut := svc.Invoke(context.Background(), "wait", "", nil, nil)
	fake.Advance(5 * time.Second)
	assert.False(t, fut.Settled())
	fake.Advance(5 * time.Second)
	assert.ErrorIs(t, fut.Err(), service.ErrHandlerTimeout)

	rt.SetHandlerTimeout(0)
	assert.Equal(t, service.DefaultTimeout, rt.HandlerTimeout())
}

func TestInvocationEvents(t *testing.T) {
	rt := newRuntime()

	svcB, err := rt.CreateService("svc")
	require.NoError(t, err)
	_, err = svcB.ExposesEndpoint("noop", func(*service.Frame) error { return nil }).Build()
	require.NoError(t, err)
	ab, err := rt.CreateAction("ping")
	require.NoError(t, err)
	_, err = ab.CallsRef("svc.noop", nil).Build()
	require.NoError(t, err)

	var topics []string
	rt.Events().Subscribe("ping:*", func(ctx context.Context, ev events.Event) error {
		topics = append(topics, ev.Topic)
		return nil
	})

	inv, err := rt.Invoke(waitCtx(t), "ping", nil)
	require.NoError(t, err)
	require.NoError(t, inv.Wait(waitCtx(t)))

	assert.Equal(t, []string{"ping", "ping:completed"}, topics)
}

func TestRegisteredGauge(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	rt := New(Config{Logger: zerolog.Nop(), Metrics: m})

	sb, err := rt.CreateStore("a")
	require.NoError(t, err)
	_, err = sb.Build()
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Registered.WithLabelValues("store")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Registered.WithLabelValues("action")))
	assert.Len(t, rt.Stores(), 1)
}

func TestUnknownAction(t *testing.T) {
	rt := newRuntime()
	_, err := rt.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}
