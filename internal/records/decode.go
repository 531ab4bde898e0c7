package records

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed wraps every record that fails to decode or validate.
var ErrMalformed = errors.New("malformed record")

const maxLineSize = 16 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Options controls malformed-record handling. With SkipMalformed unset the first bad
// line aborts decoding.
type Options struct {
	SkipMalformed bool
	OnMalformed   func(source string, line int, err error)
}

// Result describes one decoded file.
type Result struct {
	Lines   int
	Skipped int
}

// DecodeCatalog reads JSON Lines catalog records from r.
func DecodeCatalog(r io.Reader, source string, opts Options) ([]CatalogRecord, Result, error) {
	return decodeLines(r, source, opts, (*CatalogRecord).normalize)
}

// DecodeEvents reads JSON Lines event records from r.
func DecodeEvents(r io.Reader, source string, opts Options) ([]EventRecord, Result, error) {
	return decodeLines(r, source, opts, (*EventRecord).normalize)
}

func decodeLines[T any](r io.Reader, source string, opts Options, normalize func(*T)) ([]T, Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		out []T
		res Result
	)
	for scanner.Scan() {
		res.Lines++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec T
		err := json.Unmarshal(line, &rec)
		if err == nil {
			normalize(&rec)
			err = validate.Struct(&rec)
		}
		if err != nil {
			if opts.OnMalformed != nil {
				opts.OnMalformed(source, res.Lines, err)
			}
			if opts.SkipMalformed {
				res.Skipped++
				continue
			}
			return nil, res, fmt.Errorf("%w: %s line %d: %v", ErrMalformed, source, res.Lines, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, res, fmt.Errorf("read %s: %w", source, err)
	}
	return out, res, nil
}
