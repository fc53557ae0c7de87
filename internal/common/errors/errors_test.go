package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NotFound("session", "s-1")
	assert.Equal(t, "not_found: session 's-1' not found", err.Error())

	wrapped := StoreUnavailable("saving context", errors.New("disk full"))
	assert.Contains(t, wrapped.Error(), "store_unavailable")
	assert.Contains(t, wrapped.Error(), "disk full")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := AgentFault("linker", cause)
	assert.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindBusy, KindOf(Busy("queue full")))
	assert.Equal(t, KindExpired, KindOf(Expired("ttl lapsed")))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := Unauthorised("policy denies")
	wrapped := fmt.Errorf("publishing: %w", err)
	assert.True(t, IsKind(wrapped, KindUnauthorised))

	rewrapped := Wrap(wrapped, "outer layer")
	assert.Equal(t, KindUnauthorised, rewrapped.Kind)
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, Wrap(nil, "nothing"))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Cancelled("client cancelled")))
	assert.True(t, IsFatal(ResourceExhausted("budget exceeded")))
	assert.False(t, IsFatal(AgentFault("linker", errors.New("boom"))))
	assert.False(t, IsFatal(Busy("full")))
	assert.False(t, IsFatal(nil))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("session", "s-1")))
	assert.False(t, IsNotFound(Busy("full")))
	assert.True(t, IsBusy(Busy("full")))
}
