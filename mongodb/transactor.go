package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.pilab.hu/linksync/domain"
)

// Transactor runs functions inside a MongoDB session transaction. Repository
// calls made with the session context join it.
type Transactor struct {
	client *mongo.Client
}

// NewTransactor creates a Transactor on client.
func NewTransactor(client *mongo.Client) *Transactor {
	return &Transactor{client: client}
}

// WithTransaction implements domain.Transactor. A call made inside a running
// transaction joins it.
func (t *Transactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := t.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

var _ domain.Transactor = (*Transactor)(nil)
