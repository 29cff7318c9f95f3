package versioning

import (
	"context"

	"go.uber.org/zap"

	"github.com/pattersonrw/menuvault/internal/auth"
)

// CheckScheduledPublishes publishes every version whose scheduled_publish_at
// has arrived and reports how many were activated. The due query excludes
// already-published versions, so running the check twice in a row is a no-op.
// One failing publish does not block the rest of the batch.
func (s *Service) CheckScheduledPublishes(ctx context.Context) (int, error) {
	due, err := s.versions.ListDueScheduled(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	actor := auth.ActorOrSystem(ctx)
	published := 0
	for _, version := range due {
		_, err := s.PublishVersion(ctx, PublishVersionRequest{
			VersionID: version.ID,
			Force:     true,
			Actor:     actor,
		})
		if err != nil {
			s.logger.Error("scheduled publish failed",
				zap.String("version_id", version.ID.String()),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	if published > 0 {
		s.logger.Info("scheduled publishes applied", zap.Int("count", published))
	}
	return published, nil
}
