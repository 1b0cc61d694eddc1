package apperr

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSample = New(KindConflict, "sample.taken", "already taken")

func TestIsMatchesByCode(t *testing.T) {
	derived := errSample.WithField("orderId", "o-1").Wrap(errors.New("cas lost"))
	wrapped := fmt.Errorf("claim order: %w", derived)

	assert.ErrorIs(t, wrapped, errSample)
	assert.NotErrorIs(t, wrapped, New(KindConflict, "other.code", "x"))
	assert.Equal(t, KindConflict, KindOf(wrapped))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "o-1", e.Fields["orderId"])
	assert.Equal(t, "already taken: cas lost", e.Error())
}

func TestWithFieldDoesNotMutateSentinel(t *testing.T) {
	_ = errSample.WithField("a", "b")
	assert.Nil(t, errSample.Fields)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "plain error", err: errors.New("boom"), want: KindInternal},
		{name: "validation", err: Validation("cart.empty", "lines", "at least one line required"), want: KindValidation},
		{name: "upstream", err: Upstream("catalog", errors.New("timeout")), want: KindUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
