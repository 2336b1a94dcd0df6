package resilience

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient_ExplicitWrapper(t *testing.T) {
	err := NewTransientError(errors.New("rate limited"), 429)
	assert.True(t, IsTransient(err))

	wrapped := fmt.Errorf("calling extraction api: %w", err)
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransient_PlainError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("invalid payload")))
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_MessageHeuristics(t *testing.T) {
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(errors.New("dial: i/o timeout")))
	assert.False(t, IsTransient(errors.New("404 not found")))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	base := errors.New("upstream 503")
	te := NewTransientError(base, 503)
	assert.ErrorIs(t, te, base)
	assert.Equal(t, "upstream 503", te.Error())
	assert.Equal(t, 503, te.StatusCode)
}
