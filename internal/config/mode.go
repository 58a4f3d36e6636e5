package config

// RouterMode selects how received frames reach the other endpoints
type RouterMode string

const (
	// RouterSync fans out on the receiving goroutine
	RouterSync RouterMode = "sync"

	// RouterQueue hands frames to per-origin queues drained by dispatcher goroutines
	RouterQueue RouterMode = "queue"
)

// IsValid checks if the mode is valid
func (m RouterMode) IsValid() bool {
	return m == RouterSync || m == RouterQueue
}

// String returns the string representation
func (m RouterMode) String() string {
	return string(m)
}
