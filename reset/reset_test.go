package reset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePin struct {
	states []string
}

func (f *fakePin) SetOutput() error { f.states = append(f.states, "output"); return nil }
func (f *fakePin) SetLow() error    { f.states = append(f.states, "low"); return nil }
func (f *fakePin) SetHigh() error   { f.states = append(f.states, "high"); return nil }

func TestPulseSequence(t *testing.T) {
	pin := &fakePin{}
	p, err := NewGPIOPulser(17, pin)
	require.NoError(t, err)
	require.NoError(t, p.Pulse())
	require.Equal(t, []string{"output", "low", "high", "low"}, pin.states)
}

func TestRefusesPin23(t *testing.T) {
	_, err := NewGPIOPulser(23, &fakePin{})
	require.ErrorIs(t, err, ErrForbiddenPin)
}

type fakeDTR struct {
	calls []bool
}

func (f *fakeDTR) SetDTR(asserted bool) error {
	f.calls = append(f.calls, asserted)
	return nil
}

func TestDTRFallback(t *testing.T) {
	dtr := &fakeDTR{}
	p := NewDTRPulser(dtr)
	require.NoError(t, p.Pulse())
	require.Equal(t, []bool{true, false}, dtr.calls)
}
