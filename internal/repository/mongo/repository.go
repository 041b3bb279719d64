package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"streamgate/internal/domain"
)

// Repository stores one restore record per content hash, keyed by the hash.
type Repository struct {
	collection *mongo.Collection
	now        func() time.Time
}

type restoreDoc struct {
	Hash        string `bson:"_id"`
	Title       string `bson:"title"`
	Directory   string `bson:"directory"`
	IsCompleted bool   `bson:"isCompleted"`
	CreatedAt   int64  `bson:"createdAt"`
	UpdatedAt   int64  `bson:"updatedAt"`
}

func NewRepository(client *mongo.Client, dbName, collectionName string) *Repository {
	return &Repository{
		collection: client.Database(dbName).Collection(collectionName),
		now:        time.Now,
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "isCompleted", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Upsert records the session's title and directory. The completion flag is
// only ever raised by MarkCompleted, so re-adding a finished torrent keeps it.
func (r *Repository) Upsert(ctx context.Context, rec domain.RestoreRecord) error {
	if !rec.Hash.Valid() {
		return domain.ErrInvalidHash
	}
	now := r.now().UTC().Unix()
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": rec.Hash.String()},
		upsertUpdate(rec, now),
		options.Update().SetUpsert(true),
	)
	return err
}

func upsertUpdate(rec domain.RestoreRecord, now int64) bson.M {
	set := bson.M{
		"directory": rec.Directory,
		"updatedAt": now,
	}
	onInsert := bson.M{
		"isCompleted": false,
		"createdAt":   now,
	}
	// An empty title never overwrites a known one.
	if rec.Title != "" {
		set["title"] = rec.Title
	} else {
		onInsert["title"] = ""
	}
	return bson.M{"$set": set, "$setOnInsert": onInsert}
}

func (r *Repository) Get(ctx context.Context, hash domain.ContentHash) (domain.RestoreRecord, error) {
	var doc restoreDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": hash.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.RestoreRecord{}, domain.ErrNotFound
		}
		return domain.RestoreRecord{}, err
	}
	return fromDoc(doc), nil
}

// List returns every record, most recently touched first.
func (r *Repository) List(ctx context.Context) ([]domain.RestoreRecord, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []restoreDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.RestoreRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromDoc(doc))
	}
	return out, nil
}

func (r *Repository) MarkCompleted(ctx context.Context, hash domain.ContentHash) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": hash.String()},
		bson.M{"$set": bson.M{
			"isCompleted": true,
			"updatedAt":   r.now().UTC().Unix(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, hash domain.ContentHash) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": hash.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func fromDoc(doc restoreDoc) domain.RestoreRecord {
	return domain.RestoreRecord{
		Hash:        domain.ContentHash(doc.Hash),
		Title:       doc.Title,
		Directory:   doc.Directory,
		IsCompleted: doc.IsCompleted,
		UpdatedAt:   timeFromUnix(doc.UpdatedAt),
	}
}

func timeFromUnix(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}
