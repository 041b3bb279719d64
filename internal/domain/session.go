package domain

import "time"

// SubscriberID names the push-channel connection entitled to a session's events.
type SubscriberID string

type Session struct {
	Hash        ContentHash  `json:"hash"`
	Title       string       `json:"title"`
	DisplayName string       `json:"displayName"`
	Directory   string       `json:"directory"`
	VideoFile   *FileRef     `json:"videoFile,omitempty"`
	State       SessionState `json:"state"`
	Subscriber  SubscriberID `json:"subscriber,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func (s Session) Completed() bool {
	return s.State == StateCompleted
}
