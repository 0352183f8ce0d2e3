package minicache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/minicache/protocol"
)

func TestNewCircuitBreakerConfig(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("server:11211")
	require.NotNil(t, cb)

	assert.Equal(t, "server:11211", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_Trips(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("server:11211")

	for range 3 {
		_, err := cb.Execute(func() (*protocol.Response, error) {
			return nil, &protocol.ConnectionError{Op: "read", Err: fmt.Errorf("failure")}
		})
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (*protocol.Response, error) {
		t.Fatal("request should not run while the circuit is open")
		return nil, nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreaker_IgnoresCallerErrors(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("server:11211")

	callerErrors := []error{
		context.Canceled,
		&protocol.InvalidKeyError{Message: "key is empty"},
	}

	for range 3 {
		for _, callerErr := range callerErrors {
			_, err := cb.Execute(func() (*protocol.Response, error) {
				return nil, callerErr
			})
			require.ErrorIs(t, err, callerErr)
		}
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Zero(t, cb.Counts().TotalFailures)
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, 20*time.Millisecond)("server:11211")

	for range 3 {
		_, _ = cb.Execute(func() (*protocol.Response, error) {
			return nil, errors.New("failure")
		})
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	require.Eventually(t, func() bool {
		return cb.State() == gobreaker.StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	resp, err := cb.Execute(func() (*protocol.Response, error) {
		return &protocol.Response{Status: protocol.StatusStored}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusStored, resp.Status)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestIsBreakerSuccess(t *testing.T) {
	assert.True(t, isBreakerSuccess(nil))
	assert.True(t, isBreakerSuccess(context.Canceled))
	assert.True(t, isBreakerSuccess(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.True(t, isBreakerSuccess(&protocol.InvalidKeyError{}))
	assert.False(t, isBreakerSuccess(context.DeadlineExceeded))
	assert.False(t, isBreakerSuccess(&protocol.ConnectionError{Op: "read", Err: errors.New("reset")}))
}
