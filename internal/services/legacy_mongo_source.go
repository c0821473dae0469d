package services

import (
	"context"
	"errors"

	"github.com/commentsense/backend/internal/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// MongoLegacySource reads the credit_history array from user documents for
// deployments whose old schema still lives in MongoDB.
type MongoLegacySource struct {
	users *mongo.Collection
	log   *zap.Logger
}

func NewMongoLegacySource(users *mongo.Collection, logger *zap.Logger) *MongoLegacySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoLegacySource{users: users, log: logger.Named("legacy")}
}

func (s *MongoLegacySource) Name() string { return models.SourceLegacy }

func (s *MongoLegacySource) Fetch(ctx context.Context, userID string) ([]models.Transaction, error) {
	var user models.User
	err := s.users.FindOne(ctx,
		bson.M{"_id": userID},
		options.FindOne().SetProjection(bson.M{"credit_history": 1}),
	).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("fetch legacy history", err)
	}
	return normalizeLegacyHistory(userID, user.CreditHistory, s.log), nil
}
