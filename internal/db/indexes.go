package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureChatIndexes creates the secondary indexes the chat queries rely on:
// apartment-scoped pagination by created_at and membership-scoped unread
// lookups.
func EnsureChatIndexes(ctx context.Context, database *mongo.Database, messagesColl, membershipsColl string) error {
	messages := database.Collection(messagesColl)
	_, err := messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "apartment_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "apartment_id", Value: 1}, {Key: "read_by.membership_id", Value: 1}},
		},
	})
	if err != nil {
		return err
	}

	memberships := database.Collection(membershipsColl)
	_, err = memberships.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "apartment_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	return err
}
