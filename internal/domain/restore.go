package domain

import (
	"errors"
	"strings"
	"time"
)

// RestoreRecord is the persisted shape of a previously started session.
type RestoreRecord struct {
	Hash        ContentHash `json:"hash"`
	Title       string      `json:"title"`
	Directory   string      `json:"directory"`
	IsCompleted bool        `json:"isCompleted"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (r RestoreRecord) Validate() error {
	if !r.Hash.Valid() {
		return ErrInvalidHash
	}
	if strings.TrimSpace(r.Directory) == "" {
		return errors.New("directory is required")
	}
	return nil
}

type RestoreStatus string

const (
	RestoreRestored RestoreStatus = "restored"
	RestoreAdopted  RestoreStatus = "adopted"
	RestoreActive   RestoreStatus = "active"
	RestoreSkipped  RestoreStatus = "skipped"
	RestoreFailed   RestoreStatus = "failed"
)

type RestoreResult struct {
	Hash   ContentHash   `json:"hash"`
	Status RestoreStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}
