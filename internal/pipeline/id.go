package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// newRunID creates a unique identifier for a conversion run.
// Format: run-<timestamp>-<random>
// Example: run-1701432000-a1b2c3d4
func newRunID() string {
	timestamp := time.Now().Unix()
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		// Fallback to timestamp only if crypto/rand fails
		return fmt.Sprintf("run-%d", timestamp)
	}
	return fmt.Sprintf("run-%d-%s", timestamp, hex.EncodeToString(random))
}
