package anacrolix

import (
	"log/slog"

	"github.com/anacrolix/torrent"

	"streamgate/internal/domain"
)

type pieceRange struct {
	start int
	end   int
}

func mapPriority(prio domain.Priority) torrent.PiecePriority {
	switch prio {
	case domain.PriorityNone:
		return torrent.PiecePriorityNone
	case domain.PriorityHigh:
		return torrent.PiecePriorityNow
	case domain.PriorityReadahead:
		return torrent.PiecePriorityReadahead
	default:
		return torrent.PiecePriorityNormal
	}
}

func applyPiecePriority(t *torrent.Torrent, hash domain.ContentHash, f *torrent.File, r domain.Range, prio domain.Priority) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("applyPiecePriority recovered from panic",
				slog.Any("panic", rec),
				slog.String("hash", string(hash)),
			)
		}
	}()

	pr, ok := filePieceRange(int64(t.Info().PieceLength), t.NumPieces(), f.Offset(), f.Length(), r)
	if !ok {
		return
	}

	target := mapPriority(prio)
	for i := pr.start; i < pr.end; i++ {
		t.Piece(i).SetPriority(target)
	}
}

// filePieceRange maps a byte range inside a file to the torrent pieces that
// cover it, clamped to the file end.
func filePieceRange(pieceLength int64, numPieces int, fileOffset, fileLength int64, r domain.Range) (pieceRange, bool) {
	if r.Length <= 0 || pieceLength <= 0 || fileLength <= 0 || numPieces <= 0 {
		return pieceRange{}, false
	}
	start := fileOffset + r.Off
	if start < fileOffset {
		start = fileOffset
	}
	fileEnd := fileOffset + fileLength
	if start >= fileEnd {
		return pieceRange{}, false
	}
	end := start + r.Length
	if end > fileEnd || end < start {
		end = fileEnd
	}

	startPiece := int(start / pieceLength)
	endPiece := int((end + pieceLength - 1) / pieceLength)
	if endPiece <= startPiece {
		endPiece = startPiece + 1
	}
	if startPiece >= numPieces {
		return pieceRange{}, false
	}
	if endPiece > numPieces {
		endPiece = numPieces
	}
	return pieceRange{start: startPiece, end: endPiece}, true
}
