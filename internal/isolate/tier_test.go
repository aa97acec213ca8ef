package isolate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfateev/codemode-sandbox/internal/codeerr"
)

func TestDispatcher_NoHelperPathRunsAtT3(t *testing.T) {
	d := &Dispatcher{Broker: &Broker{}}
	outcome, tier := d.Run(t.Context(), "user-1", "submission.star", "result = 42\n", nil, nil)
	require.Nil(t, outcome.Err)
	assert.EqualValues(t, 42, outcome.Value)
	assert.Equal(t, TierT3, tier)
}

func TestDispatcher_ValidationErrorIsNotADecay(t *testing.T) {
	d := &Dispatcher{Broker: &Broker{}}
	outcome, tier := d.Run(t.Context(), "user-1", "submission.star", "result = 1 / 0\n", nil, nil)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, TierT3, tier)
}

func TestDispatcher_DecaysFromT2OnMissingHelperBinary(t *testing.T) {
	d := &Dispatcher{Broker: &Broker{}, HelperPath: "/nonexistent/codemode-isolate-helper"}
	outcome, tier := d.Run(t.Context(), "user-1", "submission.star", "result = 1\n", nil, nil)
	require.Nil(t, outcome.Err)
	assert.EqualValues(t, 1, outcome.Value)
	assert.Equal(t, TierT3, tier)
}

func TestIsBringUpFailure(t *testing.T) {
	assert.False(t, isBringUpFailure(&Outcome{}))
	assert.False(t, isBringUpFailure(&Outcome{Err: codeerr.New(codeerr.KindTimeout, "deadline")}))
	assert.True(t, isBringUpFailure(&Outcome{Err: codeerr.New(codeerr.KindBrokerError, "crash")}))
}
