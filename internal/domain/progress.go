package domain

import "time"

type ProgressSnapshot struct {
	Hash             ContentHash `json:"hash"`
	Progress         float64     `json:"progress"`
	DownloadedBytes  int64       `json:"downloadedBytes"`
	TotalBytes       int64       `json:"totalBytes"`
	SpeedBytesPerSec int64       `json:"speedBytesPerSec"`
	Peers            int         `json:"peers"`
	EtaMs            int64       `json:"etaMs"`
	IsPaused         bool        `json:"isPaused"`
	IsDone           bool        `json:"isDone"`
	At               time.Time   `json:"at"`
}

// ProgressFraction clamps done/total into [0,1].
func ProgressFraction(done, total int64) float64 {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 1
	}
	return float64(done) / float64(total)
}

// EstimateEtaMs returns -1 when the rate is unknown.
func EstimateEtaMs(done, total, speed int64) int64 {
	remaining := total - done
	if remaining <= 0 {
		return 0
	}
	if speed <= 0 {
		return -1
	}
	return remaining * 1000 / speed
}
