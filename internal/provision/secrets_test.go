package provision

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, secret, secretLength)
	for _, c := range secret {
		assert.Contains(t, secretAlphabet, string(c))
	}

	other, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestHashAndCheckSecret(t *testing.T) {
	hash, err := HashSecret("super-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret", hash)

	assert.True(t, CheckSecret(hash, "super-secret"))
	assert.False(t, CheckSecret(hash, "wrong"))
	assert.False(t, CheckSecret("not a bcrypt hash", "super-secret"))
}

type portCheckerFunc func(ctx context.Context, port int) (bool, error)

func (f portCheckerFunc) IsPortInUse(ctx context.Context, port int) (bool, error) {
	return f(ctx, port)
}

func TestPickPort(t *testing.T) {
	allFree := portCheckerFunc(func(ctx context.Context, port int) (bool, error) {
		return false, nil
	})

	port, err := pickPort(context.Background(), allFree, 20000, 20010)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 20000)
	assert.LessOrEqual(t, port, 20010)
}

func TestPickPortRetriesOnCollision(t *testing.T) {
	calls := 0
	firstBusy := portCheckerFunc(func(ctx context.Context, port int) (bool, error) {
		calls++
		return calls == 1, nil
	})

	port, err := pickPort(context.Background(), firstBusy, 20000, 20010)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, port, 20000)
}

func TestPickPortExhausted(t *testing.T) {
	allBusy := portCheckerFunc(func(ctx context.Context, port int) (bool, error) {
		return true, nil
	})

	_, err := pickPort(context.Background(), allBusy, 20000, 20001)
	assert.Error(t, err)
}

func TestPickPortInvalidRange(t *testing.T) {
	checker := portCheckerFunc(func(ctx context.Context, port int) (bool, error) {
		return false, nil
	})

	_, err := pickPort(context.Background(), checker, 0, 100)
	assert.Error(t, err)
	_, err = pickPort(context.Background(), checker, 30000, 20000)
	assert.Error(t, err)
}

func TestPickPortChecksEveryDraw(t *testing.T) {
	var seen []int
	recorder := portCheckerFunc(func(ctx context.Context, port int) (bool, error) {
		seen = append(seen, port)
		return false, nil
	})

	_, err := pickPort(context.Background(), recorder, 25000, 25005)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.GreaterOrEqual(t, seen[0], 25000)
	assert.LessOrEqual(t, seen[0], 25005)
}

func TestPickPortCheckError(t *testing.T) {
	failing := portCheckerFunc(func(ctx context.Context, port int) (bool, error) {
		return false, fmt.Errorf("storage offline")
	})

	_, err := pickPort(context.Background(), failing, 20000, 20010)
	assert.ErrorContains(t, err, "storage offline")
}
