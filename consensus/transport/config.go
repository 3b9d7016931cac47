package transport

import "time"

// Config holds the network-facing parameters for a transport Node.
type Config struct {
	ListenAddr        string
	DialTimeout       time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	PeerOutboundQueue int
	// IngressRatePerSec/IngressBurst bound max_message_rate_per_sec (§5):
	// a per-peer token bucket built on golang.org/x/time/rate, the same
	// library the teacher's gateway middleware uses for HTTP rate limiting.
	IngressRatePerSec float64
	IngressBurst      int
}

// DefaultConfig returns reasonable defaults for a validator-to-validator
// link: short dial timeout, generous read/write timeouts tolerant of a
// slow peer, and a per-peer ingress rate matched to a busy consensus round.
func DefaultConfig() Config {
	return Config{
		DialTimeout:       5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Second,
		PeerOutboundQueue: 256,
		IngressRatePerSec: 200,
		IngressBurst:      400,
	}
}
