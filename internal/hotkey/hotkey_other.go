//go:build !linux && !darwin

package hotkey

import "fmt"

type noopManager struct{}

// New returns a manager that refuses registrations on unsupported platforms.
func New() (Manager, error) {
	return noopManager{}, nil
}

func (noopManager) Register(accel string, callback func(pressed bool)) error {
	if _, err := ParseAccel(accel); err != nil {
		return err
	}
	return fmt.Errorf("global hotkeys are not supported on this platform")
}

func (noopManager) Unregister(accel string) error { return nil }

func (noopManager) Close() error { return nil }
