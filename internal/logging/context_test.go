package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFromContext(t *testing.T) {
	fallback := zap.NewNop()
	scoped := zap.NewExample()

	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	ctx := WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, FromContext(ctx, fallback))

	assert.Equal(t, context.Background(), WithLogger(context.Background(), nil))
	assert.NotNil(t, FromContext(context.Background(), nil))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New("checkout-api", "test", "loud")
	assert.Error(t, err)

	l, err := New("checkout-api", "test", "debug")
	assert.NoError(t, err)
	assert.NotNil(t, l)
}
