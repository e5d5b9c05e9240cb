package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
)

type MongoEventRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoEventRepository(client *mongo.Client, database string) *MongoEventRepository {
	return &MongoEventRepository{
		client:     client,
		database:   database,
		collection: "events",
	}
}

func (m *MongoEventRepository) FindByID(ctx context.Context, id string) (*Event, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventFindByID")
	defer span.End()

	startTime := time.Now()

	collection := m.client.Database(m.database).Collection(m.collection)

	var event Event
	err := collection.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "EventFindByID", 1, time.Since(startTime))

	return &event, nil
}

func (m *MongoEventRepository) FindByStatus(ctx context.Context, statuses ...EventStatus) ([]Event, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventFindByStatus")
	defer span.End()

	startTime := time.Now()

	collection := m.client.Database(m.database).Collection(m.collection)

	cursor, err := collection.Find(ctx, bson.M{"status": bson.M{"$in": statuses}})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []Event
	for cursor.Next(ctx) {
		var event Event
		if err := cursor.Decode(&event); err != nil {
			span.RecordError(err)
			return nil, err
		}
		events = append(events, event)
	}

	if err := cursor.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "EventFindByStatus", len(events), time.Since(startTime))

	return events, nil
}

func (m *MongoEventRepository) Save(ctx context.Context, event *Event) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventSave")
	defer span.End()

	collection := m.client.Database(m.database).Collection(m.collection)

	// The version filter is the optimistic lock: a stale writer matches no
	// document.
	filter := bson.M{"_id": event.ID, "version": event.Version}
	update := bson.M{
		"$set": bson.M{
			"available_bookings": event.AvailableBookings,
			"status":             event.Status,
		},
		"$inc": bson.M{"version": 1},
	}

	res, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if res.ModifiedCount == 0 {
		return ErrVersionConflict
	}
	event.Version++

	return nil
}

type MongoConfirmationRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoConfirmationRepository(client *mongo.Client, database string) *MongoConfirmationRepository {
	return &MongoConfirmationRepository{
		client:     client,
		database:   database,
		collection: "booking_confirmations",
	}
}

func (m *MongoConfirmationRepository) Insert(ctx context.Context, c *BookingConfirmation) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ConfirmationInsert")
	defer span.End()

	collection := m.client.Database(m.database).Collection(m.collection)

	if _, err := collection.InsertOne(ctx, c); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (m *MongoConfirmationRepository) FindAwaitingByToken(ctx context.Context, token string) (*BookingConfirmation, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ConfirmationFindAwaitingByToken")
	defer span.End()

	collection := m.client.Database(m.database).Collection(m.collection)

	var c BookingConfirmation
	err := collection.FindOne(ctx, bson.M{
		"token":  token,
		"status": ConfirmationStatusAwaiting,
	}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &c, nil
}

func (m *MongoConfirmationRepository) FindExpired(ctx context.Context, now time.Time) ([]BookingConfirmation, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ConfirmationFindExpired")
	defer span.End()

	startTime := time.Now()

	collection := m.client.Database(m.database).Collection(m.collection)

	// The deadline is derived from two fields, so candidates are fetched by
	// status and narrowed in memory per record.
	cursor, err := collection.Find(ctx, bson.M{"status": ConfirmationStatusAwaiting})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var expired []BookingConfirmation
	for cursor.Next(ctx) {
		var c BookingConfirmation
		if err := cursor.Decode(&c); err != nil {
			span.RecordError(err)
			return nil, err
		}
		if !c.Deadline().After(now) {
			expired = append(expired, c)
		}
	}

	if err := cursor.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "ConfirmationFindExpired", len(expired), time.Since(startTime))

	return expired, nil
}

func (m *MongoConfirmationRepository) Save(ctx context.Context, c *BookingConfirmation) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ConfirmationSave")
	defer span.End()

	collection := m.client.Database(m.database).Collection(m.collection)

	filter := bson.M{"_id": c.ID, "version": c.Version}
	update := bson.M{
		"$set": bson.M{"status": c.Status},
		"$inc": bson.M{"version": 1},
	}

	res, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if res.ModifiedCount == 0 {
		return ErrVersionConflict
	}
	c.Version++

	return nil
}
