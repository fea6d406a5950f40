package scheduler

import (
	"time"

	"github.com/imgsentry/imgsentry/internal/common"
)

// ComputeScore derives the initial priority score of a new submission.
// Lower scores dequeue sooner.
//
// score = submissionCount * fairnessSlotTicks + createdAtTicks
//
// The fairness slot term pushes repeat submitters behind first-time
// submitters by whole slot widths; within a slot, ordering is by submission
// time. submissionCount is the number of scans the IP had already submitted
// when this one arrived.
func ComputeScore(submissionCount int, createdAt time.Time, cfg *common.SchedulerConfig) int64 {
	createdAtTicks := createdAt.Unix() * cfg.TicksPerSecond
	return int64(submissionCount)*cfg.FairnessSlotTicks + createdAtTicks
}

// AgedScore applies starvation avoidance to a queued job's base score. Each
// full aging-boost interval the job has waited subtracts one boost worth of
// ticks, so a long-waiting repeat submitter eventually overtakes newer
// first-timers. The score never ages below the job's createdAt ticks.
func AgedScore(baseScore int64, createdAt, now time.Time, cfg *common.SchedulerConfig) int64 {
	waited := now.Sub(createdAt)
	if waited <= 0 {
		return baseScore
	}

	boostTicks := int64(cfg.AgingBoost/time.Second) * cfg.TicksPerSecond
	steps := int64(waited / cfg.AgingBoost)
	aged := baseScore - steps*boostTicks

	floor := createdAt.Unix() * cfg.TicksPerSecond
	if aged < floor {
		return floor
	}
	return aged
}
