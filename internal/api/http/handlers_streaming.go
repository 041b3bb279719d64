package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
	"streamgate/internal/usecase"
)

const (
	streamCopyBufferSize = 256 << 10
	maxStreamReadRetries = 5
	streamReadRetryDelay = 200 * time.Millisecond
	streamSourceDisk     = "disk"
	streamSourceLive     = "live"
)

var errClientGone = errors.New("stream client gone")

func (s *Server) handleStreamTorrent(w http.ResponseWriter, r *http.Request, hash string) {
	if s.streamTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream torrent use case not configured")
		return
	}
	query := r.URL.Query()
	result, err := s.streamTorrent.Execute(r.Context(), usecase.StreamInput{
		Hash:       hash,
		Directory:  strings.TrimSpace(query.Get("dir")),
		Subscriber: domain.SubscriberID(strings.TrimSpace(query.Get("subscriber"))),
	})
	if err != nil {
		s.logFailure(r, "stream open failed", hash, err)
		writeUseCaseError(w, err)
		return
	}

	if result.Live() {
		defer result.Reader.Close()
		s.serveLive(w, r, result)
		return
	}
	s.serveDisk(w, r, result)
}

func setStreamHeaders(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Accept-Ranges", "bytes")
	// Keep-alive would hold the reader open after the player stops.
	w.Header().Set("Connection", "close")
}

func writeUnsatisfiable(w http.ResponseWriter, size int64) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
	w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
}

func writePartialHeaders(w http.ResponseWriter, start, end, size int64) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
}

// serveDisk answers from a completed file. Requests without a usable Range
// get the whole file.
func (s *Server) serveDisk(w http.ResponseWriter, r *http.Request, result usecase.StreamResult) {
	f, err := os.Open(result.FilePath)
	if err != nil {
		s.logger.Warn("open completed file failed",
			slog.String("hash", result.Hash.String()),
			slog.String("path", result.FilePath),
			slog.String("error", err.Error()),
		)
		writeUseCaseError(w, domain.ErrStreamUnavailable)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "disk_error", "Not enough disk space or storage unavailable")
		return
	}
	size := info.Size()
	setStreamHeaders(w, result.FilePath)

	start, end := int64(0), size-1
	partial := false
	if header := r.Header.Get("Range"); header != "" {
		rs, re, err := parseByteRange(header, size)
		switch {
		case errors.Is(err, errRangeNotSatisfiable):
			writeUnsatisfiable(w, size)
			return
		case err == nil:
			start, end, partial = rs, re, true
		}
	}

	if r.Method == http.MethodHead {
		if partial {
			writePartialHeaders(w, start, end, size)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	if !partial {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		n, err := io.Copy(w, f)
		metrics.StreamBytesTotal.WithLabelValues(streamSourceDisk).Add(float64(n))
		if err != nil {
			s.logger.Debug("disk stream interrupted",
				slog.String("hash", result.Hash.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "disk_error", "Not enough disk space or storage unavailable")
		return
	}
	writePartialHeaders(w, start, end, size)
	n, err := io.CopyN(w, f, end-start+1)
	metrics.StreamBytesTotal.WithLabelValues(streamSourceDisk).Add(float64(n))
	if err != nil {
		s.logger.Debug("disk range interrupted",
			slog.String("hash", result.Hash.String()),
			slog.Int64("start", start),
			slog.String("error", err.Error()),
		)
	}
}

// serveLive answers from a downloading file. Players always send Range for
// live content; a malformed header is read as "bytes=0-".
func (s *Server) serveLive(w http.ResponseWriter, r *http.Request, result usecase.StreamResult) {
	size := result.File.Length
	setStreamHeaders(w, result.File.Path)

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	header := r.Header.Get("Range")
	if header == "" {
		writeUnsatisfiable(w, size)
		return
	}
	start, end, err := parseByteRange(header, size)
	if errors.Is(err, errInvalidRange) {
		start, end, err = parseByteRange("bytes=0-", size)
	}
	if err != nil {
		writeUnsatisfiable(w, size)
		return
	}

	result.Focus(start)
	if _, err := result.Reader.Seek(start, io.SeekStart); err != nil {
		s.logger.Warn("live stream seek failed",
			slog.String("hash", result.Hash.String()),
			slog.Int64("offset", start),
			slog.String("error", err.Error()),
		)
		writeUseCaseError(w, fmt.Errorf("%w: %v", usecase.ErrEngine, err))
		return
	}

	writePartialHeaders(w, start, end, size)
	n, err := copyWithRetry(r.Context(), w, result.Reader, start, end-start+1, s.logger)
	metrics.StreamBytesTotal.WithLabelValues(streamSourceLive).Add(float64(n))
	switch {
	case errors.Is(err, errClientGone):
		result.Release()
		s.logger.Debug("live stream client disconnected",
			slog.String("hash", result.Hash.String()),
			slog.Int64("written", n),
		)
	case err != nil:
		s.logger.Warn("live stream ended early",
			slog.String("hash", result.Hash.String()),
			slog.Int64("start", start),
			slog.Int64("written", n),
			slog.String("error", err.Error()),
		)
	}
}

// copyWithRetry copies length bytes starting at start. Read failures while
// the request is alive are retried by seeking back to the current offset.
// A failed write or a cancelled request yields errClientGone.
func copyWithRetry(ctx context.Context, w io.Writer, reader ports.StreamReader, start, length int64, logger *slog.Logger) (int64, error) {
	buf := make([]byte, streamCopyBufferSize)
	var written int64
	failures := 0
	for written < length {
		chunk := int64(len(buf))
		if remaining := length - written; remaining < chunk {
			chunk = remaining
		}
		n, readErr := reader.Read(buf[:chunk])
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, errClientGone
			}
			failures = 0
		}
		if readErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return written, errClientGone
		}
		if written >= length {
			break
		}

		failures++
		if failures > maxStreamReadRetries {
			return written, readErr
		}
		logger.Debug("live stream read retry",
			slog.Int("attempt", failures),
			slog.Int64("offset", start+written),
			slog.String("error", readErr.Error()),
		)
		select {
		case <-ctx.Done():
			return written, errClientGone
		case <-time.After(streamReadRetryDelay):
		}
		if _, err := reader.Seek(start+written, io.SeekStart); err != nil {
			return written, err
		}
	}
	return written, nil
}
