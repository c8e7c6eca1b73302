//go:build qlock_enable_padding

package opt

// Pad_ separates hot fields that are written by different goroutines.
// Padding is force-enabled via the qlock_enable_padding build tag.
// Use: go build -tags=qlock_enable_padding
type Pad_ struct {
	_ [CacheLineSize_]byte
}
