package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrantedUsesProbes(t *testing.T) {
	m := NewManagerWithProbes(map[Kind]Probe{
		Capture: func() bool { return true },
		Speech:  func() bool { return false },
	})

	assert.True(t, m.Granted(Capture))
	assert.False(t, m.Granted(Speech))
	assert.False(t, m.Granted(Accessibility), "unknown kinds are never granted")
}

func TestRequestSuppressedWithinWindow(t *testing.T) {
	m := NewManagerWithProbes(map[Kind]Probe{})

	m.Request(Capture)
	first, ok := m.requested[Capture]
	assert.True(t, ok)

	m.Request(Capture)
	assert.Equal(t, first, m.requested[Capture], "repeat within a day must not refresh the prompt")
}

func TestRemediationIsActionable(t *testing.T) {
	m := NewManagerWithProbes(map[Kind]Probe{})
	for _, kind := range []Kind{Capture, Accessibility, Speech} {
		assert.NotEmpty(t, m.Remediation(kind))
	}
}
