package engine

// DefaultMaxCallDepth bounds guest call nesting when Config.MaxCallDepth is 0.
const DefaultMaxCallDepth = 1024

// Config holds execution limits for an instance.
type Config struct {
	// MaxFuel caps the number of instructions a single invocation may
	// execute. 0 means unlimited.
	MaxFuel uint64

	// MaxCallDepth caps guest call nesting. 0 means DefaultMaxCallDepth.
	MaxCallDepth int

	// MemoryLimitPages caps memory growth per instance in 64KB pages,
	// tightening the module's own declared maximum. 0 means no extra cap.
	MemoryLimitPages uint32
}

func (c *Config) maxCallDepth() int {
	if c == nil || c.MaxCallDepth <= 0 {
		return DefaultMaxCallDepth
	}
	return c.MaxCallDepth
}

func (c *Config) maxFuel() uint64 {
	if c == nil {
		return 0
	}
	return c.MaxFuel
}

func (c *Config) memoryLimit() uint32 {
	if c == nil {
		return 0
	}
	return c.MemoryLimitPages
}
