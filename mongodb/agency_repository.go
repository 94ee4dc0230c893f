package mongodb

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.pilab.hu/linksync/domain"
)

// AgencyRepositoryMongo implements domain.AgencyRepository.
type AgencyRepositoryMongo struct {
	collection *mongo.Collection
}

// NewAgencyRepositoryMongo creates the repository and ensures its indexes.
func NewAgencyRepositoryMongo(ctx context.Context, db *mongo.Database) (*AgencyRepositoryMongo, error) {
	repo := &AgencyRepositoryMongo{collection: db.Collection(AgenciesCollection)}
	ensureIndexes(repo.collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "email", Value: 1}}},
	})
	return repo, nil
}

func agencyFilter(f domain.AgencyFilter) bson.M {
	filter := bson.M{}
	if len(f.IDs) > 0 {
		filter["_id"] = bson.M{"$in": f.IDs}
	}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Email != "" {
		filter["email"] = f.Email
	}
	return filter
}

var byCreated = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// CreateAgency inserts agency, assigning an id and timestamps.
func (r *AgencyRepositoryMongo) CreateAgency(ctx context.Context, agency *domain.Agency) error {
	if agency.ID == "" {
		agency.ID = NewObjectID()
	}
	ts := now()
	if agency.CreatedAt.IsZero() {
		agency.CreatedAt = ts
	}
	agency.UpdatedAt = ts

	if _, err := r.collection.InsertOne(ctx, agency); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Invariantf("agency %s already exists", agency.ID)
		}
		log.Error().Err(err).Str("agencyID", agency.ID).Msg("Error inserting agency")
		return err
	}
	return nil
}

// GetAgencyByID returns the agency with id.
func (r *AgencyRepositoryMongo) GetAgencyByID(ctx context.Context, id string) (*domain.Agency, error) {
	var agency domain.Agency
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&agency); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFoundf("agency %s", id)
		}
		return nil, err
	}
	return &agency, nil
}

// FindAgency returns the oldest agency matching filter.
func (r *AgencyRepositoryMongo) FindAgency(ctx context.Context, filter domain.AgencyFilter) (*domain.Agency, error) {
	var agency domain.Agency
	err := r.collection.FindOne(ctx, agencyFilter(filter), options.FindOne().SetSort(byCreated)).Decode(&agency)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFoundf("agency matching %+v", filter)
		}
		return nil, err
	}
	return &agency, nil
}

// ListAgencies returns every agency matching filter, oldest first.
func (r *AgencyRepositoryMongo) ListAgencies(ctx context.Context, filter domain.AgencyFilter) ([]*domain.Agency, error) {
	cursor, err := r.collection.Find(ctx, agencyFilter(filter), options.Find().SetSort(byCreated))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	agencies := make([]*domain.Agency, 0)
	if err := cursor.All(ctx, &agencies); err != nil {
		return nil, err
	}
	return agencies, nil
}

// UpdateAgency applies patch to the agency with id.
func (r *AgencyRepositoryMongo) UpdateAgency(ctx context.Context, id string, patch domain.AgencyPatch) error {
	set := bson.M{"updated_at": now()}
	unset := bson.M{}
	if patch.UserID != nil {
		set["user_id"] = *patch.UserID
	}
	if patch.Email != nil {
		set["email"] = *patch.Email
	}
	if patch.BillingID != nil {
		set["billing_id"] = *patch.BillingID
	}
	if patch.DefaultAccessLink != nil {
		set["default_access_link"] = patch.DefaultAccessLink
	} else if patch.ClearDefaultAccessLink {
		unset["default_access_link"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	res, err := r.collection.UpdateByID(ctx, id, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.NotFoundf("agency %s", id)
	}
	return nil
}

// DeleteAgency removes the agency with id.
func (r *AgencyRepositoryMongo) DeleteAgency(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.NotFoundf("agency %s", id)
	}
	return nil
}

// DeleteAgencies removes every agency in ids and returns how many existed.
func (r *AgencyRepositoryMongo) DeleteAgencies(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

var _ domain.AgencyRepository = (*AgencyRepositoryMongo)(nil)
