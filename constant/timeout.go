package constant

import "time"

const (
	UpstreamTimeout      = 10 * time.Second
	ShutdownGracePeriod  = 5 * time.Second
	ReadHeaderTimeout    = 15 * time.Second
	SessionTTL           = 2 * time.Hour
	SessionSweepInterval = 10 * time.Minute
)
