// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package publish drives the resumable submission loop: reserve quota,
// build a batch, submit it, observe the outcome, update the ledger,
// pace the next iteration, and persist progress — in that order, every
// iteration, so a crash or interrupt at any point leaves enough state on
// disk to resume cleanly.
package publish

import (
	"context"
	"log/slog"
	"time"

	"github.com/ewanc26/lfmimport/internal/cancel"
	lferrors "github.com/ewanc26/lfmimport/internal/errors"
	"github.com/ewanc26/lfmimport/internal/metrics"
	"github.com/ewanc26/lfmimport/pkg/batch"
	"github.com/ewanc26/lfmimport/pkg/clock"
	"github.com/ewanc26/lfmimport/pkg/importstate"
	"github.com/ewanc26/lfmimport/pkg/ratelimit"
	"github.com/ewanc26/lfmimport/pkg/records"
	"github.com/ewanc26/lfmimport/pkg/repo"
)

const maxRetriesPerBatch = 3

// ProgressCallback reports loop progress, mirroring the shape consumed
// by a progress bar: processed/total counts and a human-readable phase.
type ProgressCallback func(processed, total int64, phase string)

// Loop wires together every moving part of a publish run. All fields
// are collaborators passed in at construction; Loop itself holds no
// hidden global state.
type Loop struct {
	Clock    *clock.Clock
	Ledger   *ratelimit.Ledger
	Pacer    *ratelimit.Pacer
	Batcher  *batch.Batcher
	Client   repo.Client
	StateDir string
	RepoDID  string
	DryRun   bool
	Log      *slog.Logger

	OnProgress ProgressCallback

	// OnDryRun receives every operation a dry run would have submitted,
	// in submission order. Dry runs touch no network and persist no
	// state, so this callback is the run's only output.
	OnDryRun func(rkey string, rec records.PlayRecord)

	// Metrics, when non-nil, is updated after every batch: throughput
	// counters, batch-size/duration observations, and the ledger's
	// remaining-quota gauge.
	Metrics *metrics.Recorder

	// Backoff computes the delay before retrying a batch after a failed
	// attempt. Defaults to exponential backoff capped at 30s; overridable
	// so tests don't have to wait on real sleeps.
	Backoff func(attempt int) time.Duration

	// Sleep performs the paced inter-batch delay. Defaults to a
	// cancellation-aware poll sleep; overridable for the same reason as
	// Backoff. Returns true if cancellation interrupted the sleep.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Result summarizes one Run call.
type Result struct {
	TotalRecords      int
	ProcessedRecords  int
	SuccessfulRecords int
	FailedRecords     int
	Cancelled         bool
	Completed         bool
}

// Run submits input (already deduplicated and sorted by the caller) for
// inputPath/mode, resuming from any persisted importstate.State whose
// input-file fingerprint still matches. Cancellation is plumbed through
// token: every suspension point either checks it or selects on its
// context.
func (l *Loop) Run(token *cancel.Token, input []records.PlayRecord, inputPath, mode string) (Result, error) {
	if l.Log == nil {
		l.Log = slog.Default()
	}
	if l.Backoff == nil {
		l.Backoff = backoffFor
	}
	if l.Sleep == nil {
		l.Sleep = cancel.SleepCancelable
	}

	st, err := importstate.Load(l.StateDir, inputPath, mode)
	if err != nil {
		return Result{}, err
	}
	if st == nil || st.Stale(inputPath) {
		st, err = importstate.New(inputPath, mode, len(input))
		if err != nil {
			return Result{}, err
		}
	} else if st.Completed {
		return Result{
			TotalRecords: st.TotalRecords, ProcessedRecords: st.ProcessedRecords,
			SuccessfulRecords: st.SuccessfulRecords, FailedRecords: st.FailedRecords,
			Completed: true,
		}, nil
	}

	result := Result{TotalRecords: len(input)}
	index := st.LastSuccessfulIndex
	if index > len(input) {
		index = len(input)
	}

	for index < len(input) {
		if token.Cancelled() {
			result.Cancelled = true
			break
		}

		pacerSize := l.Pacer.BatchSize(l.Ledger)
		ceiling := l.Pacer.Ceiling(l.Ledger)
		batchSize := l.Batcher.Compose(pacerSize, ceiling)
		if remaining := len(input) - index; batchSize > remaining {
			batchSize = remaining
		}
		if batchSize > repo.MaxOpsPerBulkWrite {
			batchSize = repo.MaxOpsPerBulkWrite
		}

		slice := input[index : index+batchSize]

		if !l.DryRun {
			ok, waitErr := l.Ledger.WaitForPermit(token.Context(), len(slice)*ratelimit.PointsPerRecord)
			if waitErr != nil {
				return result, waitErr
			}
			if !ok {
				result.Cancelled = true
				break
			}
		}

		succeeded, failed, dryRunErr := l.submitBatch(token.Context(), slice)
		if dryRunErr != nil {
			return result, dryRunErr
		}

		result.ProcessedRecords += len(slice)
		result.SuccessfulRecords += succeeded
		result.FailedRecords += failed
		st.RecordBatch(len(slice), succeeded, failed)
		index += len(slice)

		if !l.DryRun {
			if err := st.Save(l.StateDir); err != nil {
				return result, err
			}
		}

		if l.Metrics != nil {
			l.Metrics.RecordsPublished.Add(float64(succeeded))
			l.Metrics.RecordsFailed.Add(float64(failed))
			l.Metrics.BatchSize.Observe(float64(len(slice)))
			snap := l.Ledger.Snapshot()
			l.Metrics.QuotaRemaining.Set(float64(snap.Remaining))
			l.Metrics.QuotaLimit.Set(float64(snap.Limit))
		}

		if l.OnProgress != nil {
			l.OnProgress(int64(result.ProcessedRecords), int64(result.TotalRecords), "publishing")
		}

		if index >= len(input) || l.DryRun {
			continue
		}

		nextPacerSize := l.Pacer.BatchSize(l.Ledger)
		delay := l.Pacer.Delay(nextPacerSize, l.Ledger)
		if l.Sleep(token.Context(), delay) {
			result.Cancelled = true
			break
		}
	}

	if !result.Cancelled && index >= len(input) {
		result.Completed = true
		if !l.DryRun {
			st.Completed = true
			if err := st.Save(l.StateDir); err != nil {
				return result, err
			}
			_ = importstate.Remove(l.StateDir, inputPath, mode)
		}
	}

	return result, nil
}

// submitBatch publishes one batch, retrying on rate-limit or transient
// network failures up to maxRetriesPerBatch times, and handling
// per-operation invalid-record and identifier-collision responses.
func (l *Loop) submitBatch(ctx context.Context, slice []records.PlayRecord) (succeeded, failed int, err error) {
	ops := make([]repo.WriteOp, 0, len(slice))
	for i := range slice {
		playedAt, _ := slice[i].PlayedAt()
		id, mintErr := l.Clock.FromTimestamp(playedAt)
		if mintErr != nil {
			failed++
			continue
		}
		rec := slice[i]
		ops = append(ops, repo.WriteOp{Action: "create", RKey: id, Record: &rec})
	}

	if l.DryRun {
		if l.OnDryRun != nil {
			for _, op := range ops {
				l.OnDryRun(op.RKey, *op.Record)
			}
		}
		return len(ops), failed, nil
	}

	for attempt := 0; attempt < maxRetriesPerBatch; attempt++ {
		start := time.Now()
		result, submitErr := l.Client.BulkWrite(ctx, l.RepoDID, ops)
		elapsed := time.Since(start)

		if l.Metrics != nil {
			l.Metrics.BatchesSubmitted.Inc()
			l.Metrics.BatchDuration.Observe(elapsed.Seconds())
		}

		if result.Headers != nil {
			_ = l.Ledger.UpdateFromHeaders(result.Headers)
		}

		if submitErr != nil {
			if isRateLimit(submitErr) {
				l.Log.Warn("publish.rate_limited", "attempt", attempt+1)
				l.Batcher.Record(batch.Observation{Size: len(ops), DurationMs: elapsed.Milliseconds(), Succeeded: false})
				ok, waitErr := l.Ledger.WaitForPermit(ctx, len(ops)*ratelimit.PointsPerRecord)
				if waitErr != nil {
					return 0, 0, waitErr
				}
				if !ok {
					return 0, len(slice), nil
				}
				continue
			}
			if isTransient(submitErr) {
				l.Log.Warn("publish.transient_failure", "attempt", attempt+1, "err", submitErr)
				l.Batcher.Record(batch.Observation{Size: len(ops), DurationMs: elapsed.Milliseconds(), Succeeded: false})
				if attempt == maxRetriesPerBatch-1 {
					return 0, len(slice), nil
				}
				if cancel.SleepCancelable(ctx, l.Backoff(attempt)) {
					return 0, len(slice), nil
				}
				continue
			}
			return 0, 0, submitErr
		}

		succ, invalidResults, collided := classifyResults(ops, result.Results)
		for _, r := range invalidResults {
			l.Log.Warn("publish.record_rejected",
				"err", lferrors.NewInvalidRecordError(r.Message, nil), "rkey", r.RKey)
		}
		if len(collided) > 0 {
			if retryErr := l.retryCollided(ctx, collided); retryErr != nil {
				l.Log.Warn("publish.collision_retry_failed", "err", retryErr)
			}
		}

		l.Batcher.Record(batch.Observation{Size: len(ops), DurationMs: elapsed.Milliseconds(), Succeeded: true})
		return succ + len(collided), len(invalidResults) + failed, nil
	}

	return 0, len(slice), nil
}

// retryCollided re-mints a fresh identifier (past the clock's current
// high-water mark) for every operation the server rejected as a
// duplicate key, and resubmits them individually.
func (l *Loop) retryCollided(ctx context.Context, collided []repo.WriteOp) error {
	for _, op := range collided {
		l.Log.Warn("publish.identifier_collision",
			"err", lferrors.NewIdentifierCollisionError(op.RKey, nil))
		id, err := l.Clock.Next()
		if err != nil {
			return err
		}
		op.RKey = id
		if _, err := l.Client.BulkWrite(ctx, l.RepoDID, []repo.WriteOp{op}); err != nil {
			return err
		}
	}
	return nil
}

func classifyResults(ops []repo.WriteOp, results []repo.OpResult) (succeeded int, invalid []repo.OpResult, collided []repo.WriteOp) {
	byRKey := make(map[string]repo.WriteOp, len(ops))
	for _, op := range ops {
		byRKey[op.RKey] = op
	}

	for _, r := range results {
		switch {
		case r.Success:
			succeeded++
		case r.Kind == "collision":
			if op, ok := byRKey[r.RKey]; ok {
				collided = append(collided, op)
			}
		default:
			invalid = append(invalid, r)
		}
	}
	return succeeded, invalid, collided
}

func isRateLimit(err error) bool {
	ue, ok := err.(*lferrors.UserError)
	return ok && ue.Kind == lferrors.KindRateLimit
}

func isTransient(err error) bool {
	ue, ok := err.(*lferrors.UserError)
	return ok && ue.Kind == lferrors.KindTransientNetwork
}

func backoffFor(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
