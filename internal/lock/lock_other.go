//go:build !unix

package lock

// Lock is a no-op on platforms without flock.
type Lock struct{}

// TryAcquire always succeeds on platforms without flock.
func TryAcquire(path string) (*Lock, error) {
	return &Lock{}, nil
}

// Release is a no-op.
func (l *Lock) Release() error {
	return nil
}
