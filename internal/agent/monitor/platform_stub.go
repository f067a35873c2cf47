//go:build !windows

package monitor

// placeholderDescriptor is returned on platforms without a native
// foreground-window API, degrading gracefully rather than failing outright.
var placeholderDescriptor = Descriptor{
	Executable:  "unknown",
	WindowTitle: "",
	PID:         0,
}

// StubPlatform implements Platform for non-Windows platforms.
type StubPlatform struct{}

// NewStubPlatform creates a new stub platform implementation.
func NewStubPlatform() *StubPlatform {
	return &StubPlatform{}
}

// ForegroundDescriptor always returns the deterministic placeholder.
func (p *StubPlatform) ForegroundDescriptor() (Descriptor, error) {
	return placeholderDescriptor, nil
}

// NewPlatform creates a platform implementation for the current OS.
func NewPlatform() Platform {
	return NewStubPlatform()
}

var _ Platform = (*StubPlatform)(nil)
