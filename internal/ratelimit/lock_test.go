package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockKeyNamespacing(t *testing.T) {
	assert.Equal(t, "playpoints:lock:reconciler:expiration", lockKey("reconciler:expiration"))
	// Already-namespaced keys pass through untouched.
	assert.Equal(t, "playpoints:lock:x", lockKey("playpoints:lock:x"))
}

func TestLockerNilClient(t *testing.T) {
	require.Nil(t, NewLocker(nil))

	var l *Locker
	_, _, err := l.TryLock(context.Background(), "k", time.Minute)
	require.Error(t, err)
	require.NoError(t, l.Release(context.Background(), "k", "token"))
}

func TestTryLockValidatesArguments(t *testing.T) {
	l := NewLocker(redis.NewClient(&redis.Options{Addr: "localhost:0"}))

	_, _, err := l.TryLock(context.Background(), "", time.Minute)
	require.Error(t, err)

	_, _, err = l.TryLock(context.Background(), "reconciler:expiration", 0)
	require.Error(t, err)
}
