//go:build !linux

package window

// stubQuery is used on platforms without a native window query.
type stubQuery struct{}

func newPlatformQuery() Query {
	return &stubQuery{}
}

func (s *stubQuery) Active() (*Info, error) {
	return nil, ErrNotAvailable
}

func (s *stubQuery) Available() (bool, string) {
	return false, "window tracking not implemented on this platform"
}
