package scheduler

import (
	"testing"
	"time"

	"github.com/imgsentry/imgsentry/internal/common"
)

func testSchedulerConfig() *common.SchedulerConfig {
	return &common.SchedulerConfig{
		TicksPerSecond:    1,
		FairnessSlotTicks: int64(7 * 24 * time.Hour / time.Second),
		AgingBoost:        5 * time.Minute,
	}
}

func TestComputeScore(t *testing.T) {
	cfg := testSchedulerConfig()
	now := time.Now().UTC()

	t.Run("First submission from a new IP beats earlier repeat submissions", func(t *testing.T) {
		repeat := ComputeScore(3, now.Add(-48*time.Hour), cfg)
		fresh := ComputeScore(0, now, cfg)
		if fresh >= repeat {
			t.Errorf("First-timer (%d) must score below a 3rd repeat from 2 days ago (%d)", fresh, repeat)
		}
	})

	t.Run("Within a slot, earlier submissions score lower", func(t *testing.T) {
		early := ComputeScore(1, now.Add(-time.Hour), cfg)
		late := ComputeScore(1, now, cfg)
		if early >= late {
			t.Errorf("Earlier submission must dequeue first: %d vs %d", early, late)
		}
	})

	t.Run("Each prior submission adds one full slot", func(t *testing.T) {
		zero := ComputeScore(0, now, cfg)
		one := ComputeScore(1, now, cfg)
		if one-zero != cfg.FairnessSlotTicks {
			t.Errorf("Expected slot width %d, got %d", cfg.FairnessSlotTicks, one-zero)
		}
	})
}

func TestAgedScore(t *testing.T) {
	cfg := testSchedulerConfig()
	now := time.Now().UTC()

	t.Run("Waiting reduces the score stepwise", func(t *testing.T) {
		createdAt := now.Add(-2 * cfg.AgingBoost)
		base := ComputeScore(1, createdAt, cfg)
		aged := AgedScore(base, createdAt, now, cfg)

		boostTicks := int64(cfg.AgingBoost/time.Second) * cfg.TicksPerSecond
		wantReduction := 2 * boostTicks
		if base-aged < wantReduction {
			t.Errorf("Two full aging intervals must reduce the score by at least %d, got %d", wantReduction, base-aged)
		}
	})

	t.Run("No reduction before a full interval", func(t *testing.T) {
		createdAt := now.Add(-cfg.AgingBoost / 2)
		base := ComputeScore(2, createdAt, cfg)
		if got := AgedScore(base, createdAt, now, cfg); got != base {
			t.Errorf("Partial interval must not age the score: %d -> %d", base, got)
		}
	})

	t.Run("Score never ages below the submission time floor", func(t *testing.T) {
		createdAt := now.Add(-365 * 24 * time.Hour)
		base := ComputeScore(1, createdAt, cfg)
		aged := AgedScore(base, createdAt, now, cfg)

		floor := createdAt.Unix() * cfg.TicksPerSecond
		if aged < floor {
			t.Errorf("Aged score %d fell below floor %d", aged, floor)
		}
	})

	t.Run("A starved repeat submitter eventually overtakes fresh first-timers", func(t *testing.T) {
		// A repeat submitter one slot behind, waiting long enough, must
		// score below a first-timer submitted right now.
		slotWait := time.Duration(cfg.FairnessSlotTicks/cfg.TicksPerSecond) * time.Second
		createdAt := now.Add(-slotWait - cfg.AgingBoost)

		base := ComputeScore(1, createdAt, cfg)
		aged := AgedScore(base, createdAt, now, cfg)
		fresh := ComputeScore(0, now, cfg)

		if aged >= fresh {
			t.Errorf("Starved repeat submitter (%d) must overtake a fresh first-timer (%d)", aged, fresh)
		}
	})
}
