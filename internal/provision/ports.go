package provision

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

const portPickAttempts = 25

// PortChecker reports whether a host port is already assigned to an agent.
type PortChecker interface {
	IsPortInUse(ctx context.Context, port int) (bool, error)
}

// pickPort draws random ports from [min, max] until one is unused.
func pickPort(ctx context.Context, checker PortChecker, min, max int) (int, error) {
	if min <= 0 || max < min {
		return 0, fmt.Errorf("invalid port range %d-%d", min, max)
	}

	span := max - min + 1
	for i := 0; i < portPickAttempts; i++ {
		var raw [4]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return 0, fmt.Errorf("failed to draw random port: %w", err)
		}
		port := min + int(binary.BigEndian.Uint32(raw[:]))%span

		inUse, err := checker.IsPortInUse(ctx, port)
		if err != nil {
			return 0, fmt.Errorf("failed to check port %d: %w", port, err)
		}
		if !inUse {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port found in range %d-%d", min, max)
}
