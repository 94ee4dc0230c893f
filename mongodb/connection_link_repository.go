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

// ConnectionLinkRepositoryMongo implements domain.ConnectionLinkRepository.
//
// A partial unique index on (agency_id, type) over default links makes the
// server reject a second default, so callers must unset the old default
// before setting a new one.
type ConnectionLinkRepositoryMongo struct {
	collection *mongo.Collection
}

// OneDefaultIndexName names the partial unique index guarding default links.
const OneDefaultIndexName = "one_default_per_agency_type"

// NewConnectionLinkRepositoryMongo creates the repository and ensures its
// indexes. It fails when the default-uniqueness index cannot be created.
func NewConnectionLinkRepositoryMongo(ctx context.Context, db *mongo.Database) (*ConnectionLinkRepositoryMongo, error) {
	repo := &ConnectionLinkRepositoryMongo{collection: db.Collection(ConnectionLinksCollection)}
	if err := ensureRequiredIndex(ctx, repo.collection, mongo.IndexModel{
		Keys: bson.D{{Key: "agency_id", Value: 1}, {Key: "type", Value: 1}},
		Options: options.Index().
			SetName(OneDefaultIndexName).
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"is_default": true}),
	}); err != nil {
		return nil, err
	}
	ensureIndexes(repo.collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "agency_id", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	return repo, nil
}

func linkFilter(f domain.ConnectionLinkFilter) bson.M {
	filter := bson.M{}
	agency := bson.M{}
	if len(f.AgencyIDs) > 0 {
		agency["$in"] = f.AgencyIDs
	}
	if f.ExcludeAgencyID != "" {
		agency["$ne"] = f.ExcludeAgencyID
	}
	if len(agency) > 0 {
		filter["agency_id"] = agency
	}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.IsDefault != nil {
		filter["is_default"] = *f.IsDefault
	}
	return filter
}

func duplicateDefault(err error, link string) error {
	if mongo.IsDuplicateKeyError(err) {
		return domain.Invariantf("connection link %s: default already exists for its agency and type", link)
	}
	return err
}

// CreateConnectionLink inserts link, assigning an id and timestamps.
func (r *ConnectionLinkRepositoryMongo) CreateConnectionLink(ctx context.Context, link *domain.ConnectionLink) error {
	if link.ID == "" {
		link.ID = NewObjectID()
	}
	ts := now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = ts
	}
	link.UpdatedAt = ts

	if _, err := r.collection.InsertOne(ctx, link); err != nil {
		log.Error().Err(err).Str("linkID", link.ID).Msg("Error inserting connection link")
		return duplicateDefault(err, link.ID)
	}
	return nil
}

// GetConnectionLinkByID returns the link with id.
func (r *ConnectionLinkRepositoryMongo) GetConnectionLinkByID(ctx context.Context, id string) (*domain.ConnectionLink, error) {
	var link domain.ConnectionLink
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&link); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFoundf("connection link %s", id)
		}
		return nil, err
	}
	return &link, nil
}

// FindDefaultConnectionLink returns the default link of (agencyID, accessType).
func (r *ConnectionLinkRepositoryMongo) FindDefaultConnectionLink(ctx context.Context, agencyID string, accessType domain.AccessType) (*domain.ConnectionLink, error) {
	var link domain.ConnectionLink
	filter := bson.M{"agency_id": agencyID, "type": accessType, "is_default": true}
	if err := r.collection.FindOne(ctx, filter).Decode(&link); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFoundf("default %s link for agency %s", accessType, agencyID)
		}
		return nil, err
	}
	return &link, nil
}

// ListConnectionLinks returns links matching filter, oldest first.
func (r *ConnectionLinkRepositoryMongo) ListConnectionLinks(ctx context.Context, filter domain.ConnectionLinkFilter) ([]*domain.ConnectionLink, error) {
	cursor, err := r.collection.Find(ctx, linkFilter(filter), options.Find().SetSort(byCreated))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	links := make([]*domain.ConnectionLink, 0)
	if err := cursor.All(ctx, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// UpdateConnectionLink applies patch to the link with id.
func (r *ConnectionLinkRepositoryMongo) UpdateConnectionLink(ctx context.Context, id string, patch domain.ConnectionLinkPatch) error {
	set := bson.M{"updated_at": now()}
	unset := bson.M{}
	if patch.AgencyID != nil {
		set["agency_id"] = *patch.AgencyID
	}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.IsDefault != nil {
		set["is_default"] = *patch.IsDefault
	}
	if patch.Type != nil {
		set["type"] = *patch.Type
	}
	if patch.Google != nil {
		set["google"] = patch.Google
	} else if patch.ClearGoogle {
		unset["google"] = ""
	}
	if patch.Facebook != nil {
		set["facebook"] = patch.Facebook
	} else if patch.ClearFacebook {
		unset["facebook"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	res, err := r.collection.UpdateByID(ctx, id, update)
	if err != nil {
		return duplicateDefault(err, id)
	}
	if res.MatchedCount == 0 {
		return domain.NotFoundf("connection link %s", id)
	}
	return nil
}

// UnsetDefaults clears is_default on the defaults of (agencyID, accessType)
// other than exceptID.
func (r *ConnectionLinkRepositoryMongo) UnsetDefaults(ctx context.Context, agencyID string, accessType domain.AccessType, exceptID string) (int64, error) {
	filter := bson.M{"agency_id": agencyID, "type": accessType, "is_default": true}
	if exceptID != "" {
		filter["_id"] = bson.M{"$ne": exceptID}
	}
	res, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"is_default": false, "updated_at": now()}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ReassignConnectionLinks moves every link matching filter to agencyID.
func (r *ConnectionLinkRepositoryMongo) ReassignConnectionLinks(ctx context.Context, filter domain.ConnectionLinkFilter, agencyID string) (int64, error) {
	res, err := r.collection.UpdateMany(ctx, linkFilter(filter), bson.M{"$set": bson.M{"agency_id": agencyID, "updated_at": now()}})
	if err != nil {
		return 0, duplicateDefault(err, "reassignment")
	}
	return res.ModifiedCount, nil
}

// ClearPlatform unsets the platform section on every link of agencyID that has one.
func (r *ConnectionLinkRepositoryMongo) ClearPlatform(ctx context.Context, agencyID string, platform domain.Platform) (int64, error) {
	field := string(platform)
	filter := bson.M{"agency_id": agencyID, field: bson.M{"$ne": nil}}
	res, err := r.collection.UpdateMany(ctx, filter, bson.M{
		"$unset": bson.M{field: ""},
		"$set":   bson.M{"updated_at": now()},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// DeleteConnectionLink removes the link with id.
func (r *ConnectionLinkRepositoryMongo) DeleteConnectionLink(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.NotFoundf("connection link %s", id)
	}
	return nil
}

// DeleteConnectionLinks removes every link in ids and returns how many existed.
func (r *ConnectionLinkRepositoryMongo) DeleteConnectionLinks(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

var _ domain.ConnectionLinkRepository = (*ConnectionLinkRepositoryMongo)(nil)
