package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf(t *testing.T) {
	cause := errors.New("flash controller nack")
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", Busy, Busy},
		{"wrapped code", fmt.Errorf("append: %w", Timeout), Timeout},
		{"E", &E{C: StorageFault, Op: "erase", Err: cause}, StorageFault},
		{"wrapped E", fmt.Errorf("tick: %w", &E{C: Backpressure}), Backpressure},
		{"plain error", cause, Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Of(tt.err))
		})
	}
}

func TestE_IsAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", &E{C: TransportUnavailable, Op: "notify", Err: cause})

	assert.True(t, errors.Is(err, TransportUnavailable))
	assert.False(t, errors.Is(err, Backpressure))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "outer: notify: transport_unavailable: boom", err.Error())
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, Fatal, ClassOf(&E{C: StorageFault}))
	assert.Equal(t, Invalid, ClassOf(Busy))
	assert.Equal(t, Transient, ClassOf(TransportUnavailable))
	assert.Equal(t, Transient, ClassOf(errors.New("x")))

	assert.True(t, IsFatal(fmt.Errorf("w: %w", StorageFault)))
	assert.False(t, IsFatal(nil))
	assert.Equal(t, "fatal", Fatal.String())
}
