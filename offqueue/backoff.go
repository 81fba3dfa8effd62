// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import "time"

// backoffDelay returns the delay before the next replay attempt for a record
// that has failed `retries` times so far:
//
//	delay = min(BackoffMax, BackoffBase * 2^retries)
//
// With the default 5s base and 5min ceiling the cap engages at retries >= 6.
func (c *Config) backoffDelay(retries int) time.Duration {
	delay := c.BackoffBase
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if delay > c.BackoffMax {
		return c.BackoffMax
	}
	return delay
}
