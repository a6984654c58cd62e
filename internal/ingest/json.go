package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a JSON array of the form [{...},{...}] element by
// element. An element that does not fit T is passed to skip and decoding
// continues; a syntax error ends the stream. Both channels are closed when
// processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader, skip SkipFunc) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		dec := json.NewDecoder(r)
		tok, err := dec.Token()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for n := 0; dec.More(); n++ {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				errCh <- eris.Wrapf(err, "json: read element %d", n)
				return
			}
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				skip.call(jsonRecordError(FormatJSON, n, raw, eris.Wrapf(err, "json: decode element %d", n)))
				continue
			}
			if !send(ctx, outCh, errCh, item, "json") {
				return
			}
		}

		if _, err := dec.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// DecodeJSONLines decodes one JSON value per line. Blank lines are ignored
// and a line that does not decode is passed to skip. Index in a skipped
// RecordError is the 1-based line number.
func DecodeJSONLines[T any](ctx context.Context, r io.Reader, skip SkipFunc) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		for line := 1; ; line++ {
			b, err := br.ReadBytes('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				errCh <- eris.Wrapf(err, "jsonl: read line %d", line)
				return
			}
			if b = bytes.TrimSpace(b); len(b) > 0 {
				var item T
				if uerr := json.Unmarshal(b, &item); uerr != nil {
					skip.call(jsonRecordError(FormatJSONL, line, b, eris.Wrapf(uerr, "jsonl: decode line %d", line)))
				} else if !send(ctx, outCh, errCh, item, "jsonl") {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return outCh, errCh
}

// jsonRecordError keeps whatever identifying string fields the raw record
// still has so the rejection can be traced back to its posting.
func jsonRecordError(f Format, index int, raw []byte, err error) RecordError {
	re := RecordError{Format: f, Index: index, Err: err}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return re
	}
	str := func(key string) string {
		var s string
		if v, ok := fields[key]; ok && json.Unmarshal(v, &s) == nil {
			return s
		}
		return ""
	}
	re.Title = str("title")
	re.Company = str("company")
	re.SourceURL = str("source_url")
	re.SourcePlatform = str("source_platform")
	return re
}

func send[T any](ctx context.Context, outCh chan<- T, errCh chan<- error, item T, format string) bool {
	if ctx.Err() != nil {
		errCh <- eris.Wrapf(ctx.Err(), "%s: context cancelled", format)
		return false
	}
	select {
	case outCh <- item:
		return true
	case <-ctx.Done():
		errCh <- eris.Wrapf(ctx.Err(), "%s: context cancelled", format)
		return false
	}
}
