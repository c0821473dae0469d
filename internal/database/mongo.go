package database

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// MongoConfig points at the document store that still holds legacy user
// documents with embedded credit history.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

func GetMongoConfig() *MongoConfig {
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "commentsense")
	viper.SetDefault("mongo.users_collection", "users")

	return &MongoConfig{
		URI:        viper.GetString("mongo.uri"),
		Database:   viper.GetString("mongo.database"),
		Collection: viper.GetString("mongo.users_collection"),
	}
}

// InitMongo connects and pings. The returned collection holds user documents.
func InitMongo(ctx context.Context, config *MongoConfig, logger *zap.Logger) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("error pinging mongo: %w", err)
	}

	logger.Info("Mongo connection established", zap.String("database", config.Database))
	return client, client.Database(config.Database).Collection(config.Collection), nil
}
