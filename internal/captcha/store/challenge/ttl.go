package challenge

import (
	"fmt"
	"time"

	"joingate/pkg/platform/sentinel"
)

// DefaultNamespace prefixes every stored key.
const DefaultNamespace = "captcha"

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}

func namespaced(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}

// OpObserver receives the latency of each store operation.
type OpObserver func(op string, d time.Duration, err error)
