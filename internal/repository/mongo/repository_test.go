package mongo

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"streamgate/internal/domain"
)

func TestUpsertUpdateNeverTouchesCompletion(t *testing.T) {
	update := upsertUpdate(domain.RestoreRecord{
		Hash:        domain.ContentHash("aaaa"),
		Title:       "Sample",
		Directory:   "movies/sample",
		IsCompleted: true,
	}, 1700000000)

	set := update["$set"].(bson.M)
	onInsert := update["$setOnInsert"].(bson.M)
	if _, ok := set["isCompleted"]; ok {
		t.Fatal("$set must not carry isCompleted")
	}
	if onInsert["isCompleted"] != false {
		t.Fatalf("$setOnInsert.isCompleted = %v", onInsert["isCompleted"])
	}
	if set["title"] != "Sample" || set["directory"] != "movies/sample" || set["updatedAt"] != int64(1700000000) {
		t.Fatalf("$set = %v", set)
	}
	if _, ok := onInsert["title"]; ok {
		t.Fatal("title must not appear in both operators")
	}
}

func TestUpsertUpdateKeepsKnownTitle(t *testing.T) {
	update := upsertUpdate(domain.RestoreRecord{Directory: "d"}, 1)
	set := update["$set"].(bson.M)
	if _, ok := set["title"]; ok {
		t.Fatal("empty title must not be $set")
	}
	if update["$setOnInsert"].(bson.M)["title"] != "" {
		t.Fatal("new records get an empty title")
	}
}

func TestFromDoc(t *testing.T) {
	rec := fromDoc(restoreDoc{
		Hash:        "abc",
		Title:       "T",
		Directory:   "d",
		IsCompleted: true,
		UpdatedAt:   1700000000,
	})
	if rec.Hash != "abc" || !rec.IsCompleted || rec.Directory != "d" {
		t.Fatalf("rec = %+v", rec)
	}
	if !rec.UpdatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("UpdatedAt = %v", rec.UpdatedAt)
	}
	if !fromDoc(restoreDoc{}).UpdatedAt.IsZero() {
		t.Fatal("zero timestamp should map to zero time")
	}
}
