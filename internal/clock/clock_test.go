package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClockUsesZone(t *testing.T) {
	c, err := New("Asia/Hong_Kong")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Hong_Kong", c.Location().String())
	assert.Equal(t, "Asia/Hong_Kong", c.Now().Location().String())

	_, err = New("Not/AZone")
	assert.Error(t, err)
}

func TestFormatAndParse(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)
	f := NewFake(time.Date(2024, 3, 1, 12, 30, 45, 999, loc))

	s := Format(f, time.Date(2024, 3, 1, 4, 30, 45, 0, time.UTC))
	assert.Equal(t, "2024-03-01 12:30:45", s)

	parsed, err := Parse(f, s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(2024, 3, 1, 4, 30, 45, 0, time.UTC)))
}

func TestFakeTimersFireInOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	var fired []string
	f.AfterFunc(2*time.Minute, func() { fired = append(fired, "b") })
	f.AfterFunc(time.Minute, func() { fired = append(fired, "a") })
	stopped := f.AfterFunc(90*time.Second, func() { fired = append(fired, "x") })
	assert.Equal(t, 3, f.PendingTimers())
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	f.Advance(time.Minute)
	assert.Equal(t, []string{"a"}, fired)
	f.Advance(time.Hour)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Zero(t, f.PendingTimers())
	assert.Equal(t, start.Add(61*time.Minute), f.Now())
}

func TestFakeTicker(t *testing.T) {
	f := NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tk := f.NewTicker(time.Minute)
	assert.Equal(t, 1, f.ActiveTickers())

	f.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	f.Advance(30 * time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	assert.Zero(t, f.ActiveTickers())
}
