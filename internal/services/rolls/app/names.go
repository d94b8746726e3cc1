package app

import (
	"context"

	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/directory"
)

// Names resolves actor display names from dir, falling back to the id.
func Names(dir directory.Directory) artifact.Names {
	return func(actorID string) string {
		actor, err := dir.Actor(context.Background(), actorID)
		if err != nil || actor.Name == "" {
			return actorID
		}
		return actor.Name
	}
}
