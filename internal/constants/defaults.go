package constants

import "time"

const (
	// DefaultExpiryWindow is how long a device stays active after its last message.
	DefaultExpiryWindow = 20 * time.Second

	// DefaultSweepPeriod is how often expired presence entries are evicted.
	DefaultSweepPeriod = 60 * time.Second

	// DefaultReconnectInterval is the period of the "still disconnected?" check.
	DefaultReconnectInterval = 10 * time.Second

	// DefaultPublishInterval is the fixed cadence of position publishes.
	DefaultPublishInterval = 10 * time.Second

	// DefaultConnectTimeout bounds a single broker handshake.
	DefaultConnectTimeout = 15 * time.Second

	// DefaultRecentLimit is the number of locations returned by recency queries.
	DefaultRecentLimit = 100

	// MaxRecentLimit caps the number of locations a single query returns.
	MaxRecentLimit = 100

	// DefaultStoreWriteTimeout bounds a single append.
	DefaultStoreWriteTimeout = 5 * time.Second
)
