package regalloc

import "fmt"

// DefaultRealDisplacement is the smallest base-less displacement the encoder
// treats as addressable memory. Anything below it is a placeholder index.
const DefaultRealDisplacement = 8

type Config struct {
	// RealDisplacement is the cutoff used by Real for refs with no base,
	// index or scale.
	RealDisplacement int32
}

func DefaultConfig() Config {
	return Config{RealDisplacement: DefaultRealDisplacement}
}

func (c Config) validate() error {
	if c.RealDisplacement < 0 {
		return fmt.Errorf("real displacement must not be negative, got %d", c.RealDisplacement)
	}
	return nil
}
