package shorturl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collidingStore reports the first n probes as taken.
type collidingStore struct {
	*fakeStore
	collisions int
}

func (c *collidingStore) CodeExists(ctx context.Context, code string) (bool, error) {
	if c.collisions > 0 {
		c.collisions--
		return true, nil
	}
	return c.fakeStore.CodeExists(ctx, code)
}

func TestAllocatorGenerate(t *testing.T) {
	a := allocator{store: newFakeStore(), length: 7}

	code, err := a.generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, code, 7)
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, code)
}

func TestAllocatorGenerateExtendsAfterProbeBudget(t *testing.T) {
	a := allocator{store: &collidingStore{fakeStore: newFakeStore(), collisions: 10}, length: 7}

	code, err := a.generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, code, 9)
}

func TestAllocatorGenerateExhausted(t *testing.T) {
	a := allocator{store: &collidingStore{fakeStore: newFakeStore(), collisions: 11}, length: 7}

	_, err := a.generate(context.Background())
	assert.ErrorIs(t, err, errAllocExhausted)
}

func TestValidateAlias(t *testing.T) {
	assert.NoError(t, validateAlias("my-link", 3, 50))
	assert.NoError(t, validateAlias("a_b", 3, 50))

	assert.ErrorIs(t, validateAlias("ab", 3, 50), ErrAliasInvalid)
	assert.ErrorIs(t, validateAlias("has space", 3, 50), ErrAliasInvalid)
	assert.ErrorIs(t, validateAlias("bad/char", 3, 50), ErrAliasInvalid)

	long := make([]byte, 51)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, validateAlias(string(long), 3, 50), ErrAliasInvalid)
}
