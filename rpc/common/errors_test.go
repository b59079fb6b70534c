package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		comm      bool
		reconnect bool
	}{
		{"nil", nil, false, false},
		{"connection lost", fmt.Errorf("read: %w", ErrConnectionLost), true, true},
		{"framing", ErrFraming, true, true},
		{"timeout", fmt.Errorf("stat: %w", ErrTimeout), true, false},
		{"stream overflow", fmt.Errorf("read: %w", ErrStreamOverflow), true, false},
		{"server error", &ServerError{Code: 3011, Message: "no such file"}, false, false},
		{"partial response", &PartialResponseError{Status: 4003, Received: 2}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.comm, IsCommunicationError(tt.err))
			assert.Equal(t, tt.reconnect, NeedsReconnect(tt.err))
		})
	}
}

func TestPartialResponseErrorKeepsServerError(t *testing.T) {
	err := fmt.Errorf("dirlist: %w", &PartialResponseError{
		Status:   4003,
		Received: 2,
		Cause:    &ServerError{Code: 3011, Message: "no space"},
	})

	assert.True(t, errors.Is(err, ErrPartialResponse))
	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, int32(3011), serverErr.Code)
	assert.Contains(t, err.Error(), "no space")

	noCause := &PartialResponseError{Status: 4004, Received: 5}
	assert.True(t, errors.Is(noCause, ErrPartialResponse))
	assert.False(t, errors.As(noCause, &serverErr))
	assert.Contains(t, noCause.Error(), "4004")
}
