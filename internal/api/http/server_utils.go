package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"streamgate/internal/domain"
	"streamgate/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeUseCaseError maps the error taxonomy onto status codes. Messages are
// shown to viewers as-is, so internal detail stays in the logs.
func writeUseCaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidHash):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid torrent hash")
	case errors.Is(err, domain.ErrInvalidDirectory):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid download directory")
	case errors.Is(err, domain.ErrNoVideoFile):
		writeError(w, http.StatusUnprocessableEntity, "no_video_file", "No playable video in this torrent, try a different one")
	case errors.Is(err, domain.ErrStreamUnavailable):
		writeError(w, http.StatusNotFound, "stream_unavailable", "File not found, try a different torrent")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
	case errors.Is(err, domain.ErrPausedConflict):
		writeError(w, http.StatusConflict, "paused", "Torrent is paused, resume it to keep watching")
	case errors.Is(err, domain.ErrDisk):
		writeError(w, http.StatusInternalServerError, "disk_error", "Not enough disk space or storage unavailable")
	case errors.Is(err, usecase.ErrEngine):
		writeError(w, http.StatusInternalServerError, "engine_error", "Stream failed, please restart and try again")
	case errors.Is(err, usecase.ErrRepository):
		writeError(w, http.StatusInternalServerError, "repository_error", "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange resolves a single-range "bytes=" header against size and
// returns inclusive bounds. Suffix ranges and open ends are supported; the
// end is clamped to the last byte.
func parseByteRange(value string, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errRangeNotSatisfiable
	}

	value = strings.TrimSpace(value)
	if !strings.HasPrefix(strings.ToLower(value), "bytes=") {
		return 0, 0, errInvalidRange
	}
	ranges := strings.TrimSpace(value[len("bytes="):])
	if ranges == "" || strings.Contains(ranges, ",") {
		return 0, 0, errInvalidRange
	}

	first, last, ok := strings.Cut(ranges, "-")
	if !ok {
		return 0, 0, errInvalidRange
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" {
		suffix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, errInvalidRange
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errInvalidRange
	}
	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}
	if last == "" {
		return start, size - 1, nil
	}

	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return 0, 0, errInvalidRange
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

func contentTypeFor(name string) string {
	if strings.EqualFold(path.Ext(strings.ReplaceAll(name, "\\", "/")), ".mkv") {
		return "video/x-matroska"
	}
	return "video/mp4"
}

// torrentRoute splits "/torrents/{hash}[/{action}]".
func torrentRoute(urlPath string) (hash, action string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(urlPath, "/torrents/"), "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}
