package serial

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatcherDispatchesToAllMatchingPatterns(t *testing.T) {
	m := newMatcher()
	var got []string
	m.addHandler(regexp.MustCompile(`^ok`), func(line string) { got = append(got, "ok:"+line) })
	m.addHandler(regexp.MustCompile(`Resend`), func(line string) { got = append(got, "resend:"+line) })

	m.dispatch("ok\n")
	m.dispatch("Resend: 5\n")
	m.dispatch("echo: busy processing\n")

	require.Equal(t, []string{"ok:ok\n", "resend:Resend: 5\n"}, got)
}

func TestMatcherHandlersForSamePatternFireInRegistrationOrder(t *testing.T) {
	m := newMatcher()
	var order []int
	pat := regexp.MustCompile(`busy`)
	for i := 0; i < 3; i++ {
		i := i
		m.addHandler(pat, func(string) { order = append(order, i) })
	}
	m.dispatch("busy processing")
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestMatcherRemoveHandlerStopsDelivery(t *testing.T) {
	m := newMatcher()
	var calls int
	tok := m.addHandler(regexp.MustCompile(`ok`), func(string) { calls++ })

	m.dispatch("ok")
	require.Equal(t, 1, calls)

	require.True(t, m.removeHandler(tok))
	m.dispatch("ok")
	require.Equal(t, 1, calls)
}

func TestMatcherRemoveUnknownTokenFails(t *testing.T) {
	m := newMatcher()
	m.addHandler(regexp.MustCompile(`ok`), func(string) {})
	require.False(t, m.removeHandler(matchToken(12345)))
	require.Len(t, m.entries, 1)
}

func TestMatcherRemoveHandlerTwiceFailsTheSecondTime(t *testing.T) {
	m := newMatcher()
	tok := m.addHandler(regexp.MustCompile(`ok`), func(string) {})

	require.True(t, m.removeHandler(tok))
	require.False(t, m.removeHandler(tok))
}
