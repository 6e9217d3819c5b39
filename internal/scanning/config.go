package scanning

import "time"

// Defaults applied by DefaultConfig and by New for unset fields.
const (
	DefaultBatchSize = 4500
	DefaultTimeout   = 1500 * time.Millisecond
	DefaultTries     = 1
)

// Config holds the settings of one scan. It is not modified by the scanner.
type Config struct {
	// BatchSize is the number of probes allowed in flight at once.
	BatchSize int
	// Timeout bounds every single probe attempt.
	Timeout time.Duration
	// Tries is the total number of attempts per target, at least 1.
	Tries int
	// Greppable and Accessible are display flags for the caller's output sink.
	Greppable  bool
	Accessible bool
	// ExcludePorts are never probed.
	ExcludePorts []uint16
	// UDP switches from TCP connect probes to UDP probe/response exchanges.
	UDP bool
	// Payloads selects the UDP payload per port. Nil uses DefaultPayloads.
	Payloads *PayloadTable
}

// DefaultConfig returns a TCP configuration with the default window, timeout
// and retry count.
func DefaultConfig() Config {
	return Config{
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
		Tries:     DefaultTries,
	}
}

func (c Config) normalized() Config {
	if c.BatchSize < 1 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Tries < 1 {
		c.Tries = 1
	}
	if c.UDP && c.Payloads == nil {
		c.Payloads = DefaultPayloads()
	}
	return c
}

func (c Config) protocol() string {
	if c.UDP {
		return "udp"
	}
	return "tcp"
}
