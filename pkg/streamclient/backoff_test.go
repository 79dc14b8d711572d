package streamclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_DoublesUpToMax(t *testing.T) {
	initial := 500 * time.Millisecond
	max := 8 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 8 * time.Second},
		{20, 8 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Delay(tt.attempt, initial, max), "attempt %d", tt.attempt)
	}
}

func TestDelay_EdgeCases(t *testing.T) {
	assert.Equal(t, time.Second, Delay(0, time.Second, time.Minute), "attempt below 1 behaves as first attempt")
	assert.Equal(t, time.Duration(0), Delay(3, 0, time.Minute), "no initial delay means immediate retry")
	assert.Equal(t, 16*time.Second, Delay(5, time.Second, 0), "zero max means uncapped")
}
