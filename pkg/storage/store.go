package storage

// Store persists daemon state that does not belong in any one server's
// sidecar file, such as the dashboard display order
type Store interface {
	// SetServerOrder replaces the saved display order
	SetServerOrder(ids []string) error

	// GetServerOrder returns the saved display order, or nil when
	// none has been saved yet
	GetServerOrder() ([]string, error)

	// Close releases the underlying database
	Close() error
}
