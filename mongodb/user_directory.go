package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.pilab.hu/linksync/domain"
)

// UserDirectoryMongo reads users from the identity layer's collection.
type UserDirectoryMongo struct {
	collection *mongo.Collection
}

// NewUserDirectoryMongo creates a UserDirectoryMongo.
func NewUserDirectoryMongo(db *mongo.Database) *UserDirectoryMongo {
	return &UserDirectoryMongo{collection: db.Collection(UsersCollection)}
}

// FindUser returns the user with id.
func (d *UserDirectoryMongo) FindUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	if err := d.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFoundf("user %s", id)
		}
		return nil, err
	}
	return &user, nil
}

var _ domain.UserDirectory = (*UserDirectoryMongo)(nil)
