package web

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"tg-filestream/internal/domain"
)

// parseRange parses a single-range bytes header against a file of the given
// size and returns the inclusive interval [from, until]. Multi-range requests,
// syntactically invalid headers, and out-of-bounds intervals all yield
// domain.ErrRangeNotSatisfiable; callers answer 416 with
// "Content-Range: bytes */size".
func parseRange(header string, size int64) (from, until int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, errors.Wrap(domain.ErrRangeNotSatisfiable, "missing bytes unit")
	}
	if strings.ContainsAny(spec, ", ") {
		return 0, 0, errors.Wrap(domain.ErrRangeNotSatisfiable, "multi-range not supported")
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, errors.Wrap(domain.ErrRangeNotSatisfiable, "missing dash")
	}

	// Suffix form: bytes=-N means the final N bytes.
	if startStr == "" {
		n, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, errors.Wrap(domain.ErrRangeNotSatisfiable, "bad suffix length")
		}
		if n > size {
			return 0, 0, errors.Wrap(domain.ErrRangeNotSatisfiable, "suffix longer than file")
		}
		return size - n, size - 1, nil
	}

	from, perr := strconv.ParseInt(startStr, 10, 64)
	if perr != nil || from < 0 {
		return 0, 0, errors.Wrap(domain.ErrRangeNotSatisfiable, "bad start offset")
	}

	if endStr == "" {
		until = size - 1
	} else {
		until, perr = strconv.ParseInt(endStr, 10, 64)
		if perr != nil {
			return 0, 0, errors.Wrap(domain.ErrRangeNotSatisfiable, "bad end offset")
		}
	}

	if from > until || from >= size || until >= size {
		return 0, 0, errors.Wrapf(domain.ErrRangeNotSatisfiable,
			"interval %d-%d outside file of %d bytes", from, until, size)
	}
	return from, until, nil
}
