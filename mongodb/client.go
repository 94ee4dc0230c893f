package mongodb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

var (
	clientInstance *mongo.Client
	dbInstance     *mongo.Database
	initOnce       sync.Once
	initErr        error
)

// ErrNotInitialized is returned when the package client is used before InitMongoDB.
var ErrNotInitialized = errors.New("mongodb client is not initialized, call InitMongoDB first")

// InitMongoDB connects the package-wide client and selects dbName. Every
// command is traced through the otelmongo monitor. Transactions need the
// deployment to be a replica set.
func InitMongoDB(ctx context.Context, uri, dbName string) error {
	initOnce.Do(func() {
		log.Info().Str("database", dbName).Msg("Initializing MongoDB client")

		clientOptions := options.Client().ApplyURI(uri)
		clientOptions.SetConnectTimeout(10 * time.Second)
		clientOptions.SetMonitor(otelmongo.NewMonitor())

		client, err := mongo.Connect(ctx, clientOptions)
		if err != nil {
			initErr = err
			return
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			initErr = err
			return
		}

		clientInstance = client
		dbInstance = client.Database(dbName)
		log.Info().Msg("MongoDB client initialized successfully.")
	})
	return initErr
}

// GetDB returns the database selected by InitMongoDB, or nil.
func GetDB() *mongo.Database {
	return dbInstance
}

// GetClient returns the client connected by InitMongoDB, or nil.
func GetClient() *mongo.Client {
	return clientInstance
}

// Ping checks the primary is reachable. Used by the health endpoint.
func Ping(ctx context.Context) error {
	if clientInstance == nil {
		return ErrNotInitialized
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return clientInstance.Ping(pingCtx, readpref.Primary())
}

// CloseMongoDB disconnects the client on shutdown.
func CloseMongoDB(ctx context.Context) {
	if clientInstance != nil {
		log.Info().Msg("Closing MongoDB connection.")
		if err := clientInstance.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("Error closing MongoDB connection")
		}
	}
}
