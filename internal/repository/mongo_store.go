package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iliyamo/field-reservation/internal/model"
)

const (
	reservationsCollection = "reservations"
	auditCollection        = "audit_log"
	countersCollection     = "counters"
	dateLocksCollection    = "date_locks"

	reservationSeq = "reservations"
	auditSeq       = "audit_log"
)

var _ Store = (*MongoStore)(nil)

// MongoStore implements Store on MongoDB.  IDs come from a counters
// collection so that they stay monotonic integers.  Transactions need a
// replica set; ListByDateForUpdate bumps a per-date lock document first,
// so two transactions writing the same date conflict and the driver
// retries one of them.
type MongoStore struct {
	client       *mongo.Client
	reservations *mongo.Collection
	audit        *mongo.Collection
	counters     *mongo.Collection
	locks        *mongo.Collection
	timeout      time.Duration
}

// NewMongoStore binds the store to the named database.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		client:       client,
		reservations: db.Collection(reservationsCollection),
		audit:        db.Collection(auditCollection),
		counters:     db.Collection(countersCollection),
		locks:        db.Collection(dateLocksCollection),
		timeout:      5 * time.Second,
	}
}

// EnsureIndexes creates the indexes used by List and the conflict lookup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.reservations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "date", Value: 1}, {Key: "start", Value: 1}}},
		{Keys: bson.D{{Key: "date", Value: 1}, {Key: "fields", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("ensure reservation indexes: %w", err)
	}
	return nil
}

// withTimeout bounds ctx unless it is a session context; wrapping a
// SessionContext would detach the call from its transaction.
func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) List(ctx context.Context, date string) ([]model.Reservation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.find(ctx, date)
}

func (s *MongoStore) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.findOne(ctx, id)
}

// WithinTx runs fn in a multi-document transaction.
func (s *MongoStore) WithinTx(ctx context.Context, fn TxFunc) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx, &mongoTx{s: s})
	})
	return err
}

type auditDoc struct {
	ID     uint64    `bson:"_id"`
	Time   time.Time `bson:"time"`
	Action string    `bson:"action"`
	Detail string    `bson:"detail"`
}

func (s *MongoStore) AppendAudit(ctx context.Context, e *model.AuditLogEntry) error {
	if !validAuditEntry(e) {
		return ErrInvalidAuditEntry
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	id, err := s.nextSequence(ctx, auditSeq)
	if err != nil {
		return err
	}
	doc := auditDoc{ID: id, Time: e.Time.UTC(), Action: string(e.Action), Detail: string(e.Detail)}
	if _, err := s.audit.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	e.ID = id
	return nil
}

func (s *MongoStore) ListAudit(ctx context.Context) ([]model.AuditLogEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.audit.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []model.AuditLogEntry{}
	for cur.Next(ctx) {
		var d auditDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, model.AuditLogEntry{
			ID:     d.ID,
			Time:   d.Time.UTC(),
			Action: model.AuditAction(d.Action),
			Detail: []byte(d.Detail),
		})
	}
	return out, cur.Err()
}

// nextSequence atomically increments and returns the named counter.
func (s *MongoStore) nextSequence(ctx context.Context, name string) (uint64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return uint64(doc.Seq), nil
}

func (s *MongoStore) find(ctx context.Context, date string) ([]model.Reservation, error) {
	filter := bson.M{}
	if date != "" {
		filter["date"] = date
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "start", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.reservations.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []model.Reservation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) findOne(ctx context.Context, id uint64) (*model.Reservation, error) {
	var r model.Reservation
	if err := s.reservations.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &r, nil
}

type mongoTx struct {
	s *MongoStore
}

func (t *mongoTx) ListByDateForUpdate(ctx context.Context, date string) ([]model.Reservation, error) {
	_, err := t.s.locks.UpdateOne(ctx,
		bson.M{"_id": date},
		bson.M{"$inc": bson.M{"version": int64(1)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("lock date %s: %w", date, err)
	}
	return t.s.find(ctx, date)
}

func (t *mongoTx) GetByIDForUpdate(ctx context.Context, id uint64) (*model.Reservation, error) {
	return t.s.findOne(ctx, id)
}

func (t *mongoTx) Insert(ctx context.Context, r *model.Reservation) error {
	id, err := t.s.nextSequence(ctx, reservationSeq)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := r.Clone()
	doc.ID, doc.CreatedAt, doc.UpdatedAt = id, now, now
	if _, err := t.s.reservations.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	r.ID, r.CreatedAt, r.UpdatedAt = id, now, now
	return nil
}

func (t *mongoTx) Update(ctx context.Context, r *model.Reservation) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	set := bson.M{
		"date":       r.Date,
		"start":      r.Start,
		"end":        r.End,
		"fields":     r.Fields,
		"group":      r.Group,
		"updated_at": now,
	}
	res, err := t.s.reservations.UpdateOne(ctx, bson.M{"_id": r.ID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update reservation %d: %w", r.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrReservationNotFound
	}
	r.UpdatedAt = now
	return nil
}

func (t *mongoTx) Delete(ctx context.Context, id uint64) error {
	res, err := t.s.reservations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete reservation %d: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrReservationNotFound
	}
	return nil
}
