package connpool

import (
	"errors"
	"fmt"
)

// Sentinel errors callers can errors.Is against.
var (
	ErrPoolClosed     = errors.New("connpool: pool is closed")
	ErrAcquireTimeout = errors.New("connpool: acquire timed out")
	ErrAcquireFailed  = errors.New("connpool: acquire failed")
)

func errConfigField(name string) error {
	return fmt.Errorf("connpool: invalid config field %s: must be positive", name)
}
