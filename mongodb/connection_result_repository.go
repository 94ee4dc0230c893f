package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.pilab.hu/linksync/domain"
)

// ConnectionResultRepositoryMongo implements domain.ConnectionResultRepository.
type ConnectionResultRepositoryMongo struct {
	collection *mongo.Collection
}

// NewConnectionResultRepositoryMongo creates the repository and ensures its indexes.
func NewConnectionResultRepositoryMongo(ctx context.Context, db *mongo.Database) (*ConnectionResultRepositoryMongo, error) {
	repo := &ConnectionResultRepositoryMongo{collection: db.Collection(ConnectionResultsCollection)}
	ensureIndexes(repo.collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "agency_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "connection_link_id", Value: 1}}},
	})
	return repo, nil
}

var sortableResultFields = map[string]bool{"created_at": true, "updated_at": true}

// CreateConnectionResult inserts result, assigning an id and timestamps.
func (r *ConnectionResultRepositoryMongo) CreateConnectionResult(ctx context.Context, result *domain.ConnectionResult) error {
	if result.ID == "" {
		result.ID = NewObjectID()
	}
	ts := now()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = ts
	}
	result.UpdatedAt = ts
	if _, err := r.collection.InsertOne(ctx, result); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Invariantf("connection result %s already exists", result.ID)
		}
		return err
	}
	return nil
}

// GetConnectionResultByID returns the result with id.
func (r *ConnectionResultRepositoryMongo) GetConnectionResultByID(ctx context.Context, id string) (*domain.ConnectionResult, error) {
	var result domain.ConnectionResult
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&result); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFoundf("connection result %s", id)
		}
		return nil, err
	}
	return &result, nil
}

// ListConnectionResults returns one page of matching results and the total count.
func (r *ConnectionResultRepositoryMongo) ListConnectionResults(ctx context.Context, f domain.ConnectionResultFilter, opts domain.ListOptions) ([]*domain.ConnectionResult, int64, error) {
	opts = opts.Normalize()
	filter := bson.M{}
	if f.AgencyID != "" {
		filter["agency_id"] = f.AgencyID
	}
	if f.ConnectionLinkID != "" {
		filter["connection_link_id"] = f.ConnectionLinkID
	}
	if f.AccessType != "" {
		filter["access_type"] = f.AccessType
	}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	sortField := opts.SortBy
	if !sortableResultFields[sortField] {
		sortField = "created_at"
	}
	dir := 1
	if opts.SortDesc {
		dir = -1
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: sortField, Value: dir}, {Key: "_id", Value: dir}}).
		SetSkip(int64(opts.Skip())).
		SetLimit(int64(opts.PageSize))

	cursor, err := r.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	results := make([]*domain.ConnectionResult, 0)
	if err := cursor.All(ctx, &results); err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// TransferConnectionResults repoints results of sourceAgencyIDs to targetAgencyID.
func (r *ConnectionResultRepositoryMongo) TransferConnectionResults(ctx context.Context, sourceAgencyIDs []string, targetAgencyID string) (int64, error) {
	if len(sourceAgencyIDs) == 0 {
		return 0, nil
	}
	filter := bson.M{"agency_id": bson.M{"$in": sourceAgencyIDs, "$ne": targetAgencyID}}
	res, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"agency_id": targetAgencyID, "updated_at": now()}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// DeleteConnectionResult removes the result with id.
func (r *ConnectionResultRepositoryMongo) DeleteConnectionResult(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.NotFoundf("connection result %s", id)
	}
	return nil
}

var _ domain.ConnectionResultRepository = (*ConnectionResultRepositoryMongo)(nil)
