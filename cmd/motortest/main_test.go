package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camdrive/internal/monitoring"
	"github.com/banshee-data/camdrive/internal/motorlink"
	"github.com/banshee-data/camdrive/internal/timeutil"
)

func connected(t *testing.T) (*motorlink.Channel, *motorlink.MockDialer, *timeutil.MockClock) {
	t.Helper()
	monitoring.SetLogger(nil)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	dialer := &motorlink.MockDialer{}
	ch := motorlink.NewChannel(dialer, clock, motorlink.DefaultOptions())
	require.NoError(t, ch.Connect(context.Background()))
	return ch, dialer, clock
}

func TestRunPattern(t *testing.T) {
	ch, dialer, clock := connected(t)

	assert.True(t, runPattern(context.Background(), ch, clock, pattern()))

	assert.Equal(t, []string{
		`{"N":3,"D1":3,"D2":200}`, `{Heartbeat}`,
		`{"N":3,"D1":2,"D2":95}`, `{Heartbeat}`,
		`{"N":3,"D1":3,"D2":200}`, `{Heartbeat}`,
		`{"N":100}`,
	}, dialer.Last().Writes())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, time.Second, 2 * time.Second}, clock.Sleeps())
}

func TestRunPattern_StopsAfterSendFailure(t *testing.T) {
	ch, dialer, clock := connected(t)
	port := dialer.Last()
	port.WriteErrors = []error{errors.New("broken pipe"), errors.New("broken pipe")}

	assert.False(t, runPattern(context.Background(), ch, clock, pattern()))
	// The trailing stop still goes out on the same port.
	assert.Equal(t, []string{`{"N":100}`}, port.Writes())
}

func TestRunPattern_Cancelled(t *testing.T) {
	ch, dialer, clock := connected(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, runPattern(ctx, ch, clock, pattern()))
	assert.Equal(t, []string{`{"N":100}`}, dialer.Last().Writes())
}

func TestRunPattern_CancelledMidHold(t *testing.T) {
	ch, dialer, clock := connected(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancel while the first forward move is holding.
	clock.OnSleep(func(d time.Duration) {
		if len(clock.Sleeps()) == 2 {
			cancel()
		}
	})

	assert.False(t, runPattern(ctx, ch, clock, pattern()))
	assert.Equal(t, []string{
		`{"N":3,"D1":3,"D2":200}`, `{Heartbeat}`,
		`{"N":100}`,
	}, dialer.Last().Writes())
	assert.Len(t, clock.Sleeps(), 2)
}

func TestRunPattern_CancelledDuringLastHold(t *testing.T) {
	ch, dialer, clock := connected(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	steps := pattern()
	clock.OnSleep(func(d time.Duration) {
		if len(clock.Sleeps()) == len(steps) {
			cancel()
		}
	})

	assert.False(t, runPattern(ctx, ch, clock, steps))
	writes := dialer.Last().Writes()
	assert.Equal(t, `{"N":100}`, writes[len(writes)-1])
}
