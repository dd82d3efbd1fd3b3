package routeragent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ProviderError describes a failed call to the router agent
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("router agent %s: status=%d body=%s", e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("router agent %s: %v", e.Op, e.Err)
	}
	return "router agent " + e.Op + ": failed"
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same call later may succeed.
func (e *ProviderError) Transient() bool {
	if e.StatusCode != 0 {
		return e.StatusCode == http.StatusTooManyRequests ||
			e.StatusCode == http.StatusRequestTimeout ||
			e.StatusCode >= 500
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(e.Err, &opErr)
}

// IsPermanent reports whether err is an explicit router rejection that
// replaying the same call will not fix. Errors the router never answered
// are not permanent.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && !pe.Transient()
}
