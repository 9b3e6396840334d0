package pack

import (
	"fmt"
	"time"
)

// Options configure how a scope is laid out on disk.
type Options struct {
	// BucketSize is the number of buckets keys are sharded into.
	BucketSize int
	// PackSize is the target maximum of key+value bytes per pack.
	PackSize int
	// Expire is how long an untouched scope stays valid. Zero disables expiry.
	Expire time.Duration
}

// Validate checks the bounds of o.
func (o Options) Validate() error {
	if o.BucketSize < 1 {
		return fmt.Errorf("%w: bucket size must be >= 1, got %d", ErrInvalidOptions, o.BucketSize)
	}
	if o.PackSize <= 0 {
		return fmt.Errorf("%w: pack size must be > 0, got %d", ErrInvalidOptions, o.PackSize)
	}
	if o.Expire < 0 {
		return fmt.Errorf("%w: expire must be >= 0, got %s", ErrInvalidOptions, o.Expire)
	}
	return nil
}
