package session

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// RetryTag prefixes the callback data of a "Try Again" button
	RetryTag     = "try_again"
	retryVersion = "v1"
	// MaxCallbackData is the longest callback payload Telegram accepts, in bytes
	MaxCallbackData = 64
)

var (
	ErrNotRetry         = errors.New("callback data is not a retry")
	ErrCallbackTooLong  = errors.New("retry callback data too long")
	ErrEmptyCallbackKey = errors.New("retry callback data has no key")
)

// EncodeRetry builds the callback data of a retry button for key,
// in the form try_again:v1:<key>
func EncodeRetry(key string) (string, error) {
	data := RetryTag + ":" + retryVersion + ":" + key
	if len(data) > MaxCallbackData {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackTooLong, len(data))
	}
	return data, nil
}

// DecodeRetry recovers the key from retry callback data.
// Unversioned try_again:<key> payloads from older buttons are accepted too.
func DecodeRetry(data string) (string, error) {
	rest, ok := strings.CutPrefix(data, RetryTag+":")
	if !ok {
		return "", ErrNotRetry
	}
	key := rest
	if v, k, found := strings.Cut(rest, ":"); found && v == retryVersion {
		key = k
	}
	if strings.TrimSpace(key) == "" {
		return "", ErrEmptyCallbackKey
	}
	return key, nil
}

// IsRetry reports whether data carries the retry tag
func IsRetry(data string) bool { return strings.HasPrefix(data, RetryTag+":") }
