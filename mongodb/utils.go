package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// NewObjectID generates a new MongoDB ObjectID as a string
func NewObjectID() string {
	return primitive.NewObjectID().Hex()
}

func ensureIndexes(coll *mongo.Collection, models []mongo.IndexModel) {
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := coll.Indexes().CreateMany(timeoutCtx, models); err != nil {
		log.Warn().Err(err).Str("collection", coll.Name()).Msg("Issue creating indexes (might already exist or other error)")
		return
	}
	log.Info().Str("collection", coll.Name()).Msg("Indexes ensured.")
}

// ensureRequiredIndex creates an index the repository's guarantees depend on.
// Unlike ensureIndexes, a failure is returned to the caller.
func ensureRequiredIndex(ctx context.Context, coll *mongo.Collection, model mongo.IndexModel) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	name, err := coll.Indexes().CreateOne(timeoutCtx, model)
	if err != nil {
		return fmt.Errorf("create index on %s: %w", coll.Name(), err)
	}
	log.Info().Str("collection", coll.Name()).Str("index", name).Msg("Required index ensured.")
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}
