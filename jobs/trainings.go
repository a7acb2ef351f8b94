package jobs

import (
	"context"
	"time"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"
	"trading-alerts/api/store"

	"go.uber.org/zap"
)

func (r *Runner) closeTrainings(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	trainings, err := r.repo.ListTrainings(ctx, store.TrainingFilter{
		Statuses: []models.TrainingStatus{models.TrainingOpen, models.TrainingClosed},
	})
	if err != nil {
		return res, err
	}
	for i := range trainings {
		t := &trainings[i]
		next := t.NextStatus(now)
		if next == t.Status {
			continue
		}
		moved, err := r.repo.SetTrainingStatus(ctx, t.ID, t.Status, next, now)
		if err != nil {
			return res, err
		}
		if !moved {
			// an admin changed it since the listing
			res.Skipped++
			continue
		}
		logger.Get().Info("training status changed",
			zap.String("training_id", t.ID.Hex()),
			zap.String("from", string(t.Status)),
			zap.String("to", string(next)))
		res.Processed++
	}
	return res, nil
}
