package shorturl

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var errAllocExhausted = errors.New("code allocation exhausted")

// allocator produces unique short codes, probing the authoritative store
// for collisions (never only the cache).
type allocator struct {
	store  Store
	length int
}

// generate emits a random token of the configured length. Up to 10 probes;
// after 10 collisions one longer (length+2) token is tried.
func (a *allocator) generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code, err := randomCode(a.length)
		if err != nil {
			return "", err
		}
		taken, err := a.store.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}

	code, err := randomCode(a.length + 2)
	if err != nil {
		return "", err
	}
	taken, err := a.store.CodeExists(ctx, code)
	if err != nil {
		return "", err
	}
	if taken {
		return "", errAllocExhausted
	}
	return code, nil
}

// validateAlias checks a requested custom alias against charset and length
// bounds. Availability is checked separately by the insert path.
func validateAlias(alias string, minLen, maxLen int) error {
	if len(alias) < minLen || len(alias) > maxLen {
		return fmt.Errorf("%w: length must be within [%d, %d]", ErrAliasInvalid, minLen, maxLen)
	}
	if !codePattern.MatchString(alias) {
		return fmt.Errorf("%w: only [A-Za-z0-9_-] allowed", ErrAliasInvalid)
	}
	return nil
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("entropy source: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
