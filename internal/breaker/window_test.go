package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source shared by the package
// tests.
type fakeClock struct {
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	return f.current
}

func (f *fakeClock) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}

func TestNewErrorWindowValidation(t *testing.T) {
	t.Parallel()

	_, err := NewErrorWindow(0, 0.5, nil)
	require.Error(t, err)

	_, err = NewErrorWindow(time.Minute, 1.5, nil)
	require.Error(t, err)

	_, err = NewErrorWindow(time.Minute, -0.1, nil)
	require.Error(t, err)

	w, err := NewErrorWindow(time.Minute, 0.5, nil)
	require.NoError(t, err)
	require.NotNil(t, w)
}

func TestErrorWindowThresholdIsStrict(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	w, err := NewErrorWindow(time.Minute, 0.5, fc.Now)
	require.NoError(t, err)

	// Exactly at the threshold does not trip.
	require.False(t, w.RecordAndCheck(10, 5))
	require.Equal(t, 0.5, w.Ratio())

	// One more error pushes the ratio strictly past it.
	require.True(t, w.RecordAndCheck(1, 1))
}

func TestErrorWindowEmptyRatioIsZero(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	w, err := NewErrorWindow(time.Minute, 0.0, fc.Now)
	require.NoError(t, err)

	require.Zero(t, w.Ratio())
	require.False(t, w.RecordAndCheck(0, 0))
}

func TestErrorWindowPrunesExpiredSamples(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	w, err := NewErrorWindow(time.Minute, 0.5, fc.Now)
	require.NoError(t, err)

	// An old error burst...
	require.True(t, w.RecordAndCheck(10, 10))

	// ...no longer counts once it ages out of the window.
	fc.Advance(2 * time.Minute)
	require.False(t, w.RecordAndCheck(10, 0))
	require.Zero(t, w.Ratio())
}

func TestErrorWindowReset(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	w, err := NewErrorWindow(time.Minute, 0.5, fc.Now)
	require.NoError(t, err)

	require.True(t, w.RecordAndCheck(10, 10))
	w.Reset()
	require.Zero(t, w.Ratio())
	require.False(t, w.RecordAndCheck(10, 0))
}
