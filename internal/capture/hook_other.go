//go:build !linux

package capture

import "context"

// stubHook is used on platforms without a native capture implementation.
type stubHook struct {
	BaseHook
}

func newPlatformHook() Hook {
	return &stubHook{}
}

func (s *stubHook) Start(ctx context.Context) error {
	return ErrNotAvailable
}

func (s *stubHook) Stop() error {
	return nil
}

func (s *stubHook) Available() (bool, string) {
	return false, "keyboard capture not implemented on this platform"
}
