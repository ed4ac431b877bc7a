package middleware

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const auditCollection = "access_audit"

// MongoAuditRecorder appends audit entries to the access_audit collection.
type MongoAuditRecorder struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewMongoAuditRecorder indexes the collection by patient and time so a
// patient's access history can be listed without a scan.
func NewMongoAuditRecorder(ctx context.Context, db *mongo.Database) (*MongoAuditRecorder, error) {
	coll := db.Collection(auditCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "patient", Value: 1}, {Key: "timestamp", Value: -1}},
		Options: options.Index().SetName("patient_timestamp"),
	})
	if err != nil {
		return nil, fmt.Errorf("create audit index: %w", err)
	}
	return &MongoAuditRecorder{coll: coll, timeout: 5 * time.Second}, nil
}

func (r *MongoAuditRecorder) RecordAccess(entry AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err := r.coll.InsertOne(ctx, bson.M{
		"caller":      entry.Caller,
		"roles":       entry.Roles,
		"action":      entry.Action,
		"resource":    entry.Resource,
		"patient":     entry.Patient,
		"scope":       entry.Scope,
		"emergency":   entry.Emergency(),
		"method":      entry.Method,
		"path":        entry.Path,
		"ip_address":  entry.IPAddress,
		"user_agent":  entry.UserAgent,
		"request_id":  entry.RequestID,
		"status_code": entry.StatusCode,
		"timestamp":   entry.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
