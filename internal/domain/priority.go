package domain

type Priority int

const (
	PriorityNone      Priority = -1
	PriorityNormal    Priority = 1
	PriorityReadahead Priority = 2
	PriorityHigh      Priority = 4 // maps to PiecePriorityNow
)

// Range is a byte span within a single file.
type Range struct {
	Off    int64 `json:"off"`
	Length int64 `json:"length"`
}
