// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"fmt"
	"time"
)

// Hit records an admission attempt for bucket if fewer than limit attempts
// fall inside the sliding window ending at now. Expired rows of this bucket
// are dropped on the way; PruneRateHits clears buckets that went quiet.
//
// Two instances racing on the same bucket may both admit the last slot; the
// admission guard is advisory, so that overshoot is accepted.
func (s *Store) Hit(ctx context.Context, bucket string, now time.Time, window time.Duration, limit int) (bool, error) {
	cutoff := now.Add(-window).UnixMilli()
	allowed := false

	err := s.InTx(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(ctx, `
			DELETE FROM rate_hit WHERE bucket = $1 AND at_ms <= $2
		`, bucket, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune rate hits: %w", err)
		}

		var count int
		err = tx.tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM rate_hit WHERE bucket = $1
		`, bucket).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to count rate hits: %w", err)
		}
		if count >= limit {
			return nil
		}

		_, err = tx.tx.ExecContext(ctx, `
			INSERT INTO rate_hit (bucket, at_ms) VALUES ($1, $2)
		`, bucket, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to record rate hit: %w", err)
		}
		allowed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// PruneRateHits drops every hit recorded at or before cutoff and returns how
// many rows went.
func (s *Store) PruneRateHits(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_hit WHERE at_ms <= $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate hits: %w", err)
	}
	return res.RowsAffected()
}
