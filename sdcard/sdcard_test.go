package sdcard

import (
	"testing"

	"github.com/printlink-go/core/bus"
	"github.com/stretchr/testify/require"
)

func TestEntryAddByPathBuildsTree(t *testing.T) {
	root := newDir("SD Card")
	root.addByPath("/PRUSA/print.gcode", 1024)
	root.addByPath("/PRUSA/sub/other.g", 2048)
	root.addByPath("/top.g", 10)

	prusa, ok := root.Children["PRUSA"]
	require.True(t, ok)
	require.True(t, prusa.IsDir)

	file, ok := prusa.Children["print.gcode"]
	require.True(t, ok)
	require.False(t, file.IsDir)
	require.Equal(t, int64(1024), file.Size)

	sub, ok := prusa.Children["sub"]
	require.True(t, ok)
	require.True(t, sub.IsDir)
	other, ok := sub.Children["other.g"]
	require.True(t, ok)
	require.Equal(t, int64(2048), other.Size)

	top, ok := root.Children["top.g"]
	require.True(t, ok)
	require.Equal(t, int64(10), top.Size)
}

func TestNewCardStartsUnsure(t *testing.T) {
	c := &Card{sdState: Unsure, lfnToSfn: map[string]string{}, sfnToLfn: map[string]string{}}
	require.Equal(t, Unsure, c.State())
}

func TestSetStateFiresMountedOnceTransitioningIntoPresent(t *testing.T) {
	c := newBareCard()

	var mounted bool
	c.Mounted.Connect(func(*Entry) { mounted = true })

	c.setState(Initialising)
	require.False(t, mounted)

	c.setState(Present)
	require.True(t, mounted)
	require.Equal(t, Present, c.State())
}

func TestSetStateFiresUnmountedLeavingPresent(t *testing.T) {
	c := newBareCard()
	c.setState(Present)

	var unmounted bool
	c.Unmounted.Connect(func(struct{}) { unmounted = true })

	c.setState(Absent)
	require.True(t, unmounted)
}

func TestSdInsertedIgnoredWhenExpected(t *testing.T) {
	c := newBareCard()
	c.expectInsertion = true

	var changed bool
	c.StateChanged.Connect(func(State) { changed = true })

	c.sdInserted(map[string]string{"present": "1"})
	require.False(t, changed, "expected insertion should not itself trigger INITIALISING")
	require.False(t, c.expectInsertion, "the expectation flag is consumed")
}

func TestSdInsertedUnexpectedGoesInitialising(t *testing.T) {
	c := newBareCard()

	c.sdInserted(map[string]string{"present": "1"})
	require.Equal(t, Initialising, c.State())
}

func newBareCard() *Card {
	return &Card{
		sdState:      Unsure,
		lfnToSfn:     map[string]string{},
		sfnToLfn:     map[string]string{},
		TreeUpdated:  bus.New[*Entry](),
		Mounted:      bus.New[*Entry](),
		Unmounted:    bus.New[struct{}](),
		StateChanged: bus.New[State](),
	}
}
