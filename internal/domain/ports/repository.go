package ports

import (
	"context"

	"streamgate/internal/domain"
)

type RestoreRepository interface {
	Upsert(ctx context.Context, rec domain.RestoreRecord) error
	Get(ctx context.Context, hash domain.ContentHash) (domain.RestoreRecord, error)
	List(ctx context.Context) ([]domain.RestoreRecord, error)
	MarkCompleted(ctx context.Context, hash domain.ContentHash) error
	Delete(ctx context.Context, hash domain.ContentHash) error
}

// SnapshotCache keeps the last progress snapshot per hash.
type SnapshotCache interface {
	Put(ctx context.Context, snap domain.ProgressSnapshot) error
	Get(ctx context.Context, hash domain.ContentHash) (domain.ProgressSnapshot, bool, error)
	Delete(ctx context.Context, hash domain.ContentHash) error
}
