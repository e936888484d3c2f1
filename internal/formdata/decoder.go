// Package formdata incrementally decodes a multipart/form-data byte stream
// into named fields and streamed files. The decoder is a push parser: it is
// fed arbitrarily sliced chunks and keeps its own tail between feeds, so
// boundaries may straddle chunk borders freely.
package formdata

import (
	"bytes"
	"context"
	"strings"

	"github.com/velo-web/velo/httpx/form"
	"github.com/velo-web/velo/internal/urlenc"
	"github.com/velo-web/velo/kv"
	"github.com/velo-web/velo/status"
)

type state uint8

const (
	// statePreamble skips everything up to the first boundary.
	statePreamble state = iota
	// stateBoundary decides between another segment and the terminal "--".
	stateBoundary
	// stateHeaders accumulates a segment's header block.
	stateHeaders
	// stateFieldBody accumulates a text field's value.
	stateFieldBody
	// stateFileBody records a file's content chunks.
	stateFileBody
	stateDone
)

type Decoder struct {
	// open matches the very first delimiter, delim all following ones.
	open  []byte
	delim []byte

	fields     *kv.Storage
	files      map[string]*form.File
	queueDepth int

	state     state
	buf       []byte
	decodeBuf []byte

	fieldName string
	fieldAcc  []byte
	file      *form.File
}

// NewDecoder returns a decoder writing field values into fields and
// registering uploads in files. queueDepth bounds each file's chunk queue.
func NewDecoder(boundary string, fields *kv.Storage, files map[string]*form.File, queueDepth int) *Decoder {
	return &Decoder{
		open:       []byte("--" + boundary),
		delim:      []byte("\r\n--" + boundary),
		fields:     fields,
		files:      files,
		queueDepth: queueDepth,
	}
}

// Feed advances the state machine with the next chunk of the stream. File
// content is copied out of the chunk, so the caller may reuse it.
func (d *Decoder) Feed(chunk []byte) error {
	data := chunk
	if len(d.buf) > 0 {
		d.buf = append(d.buf, chunk...)
		data = d.buf
	}

	rest, err := d.process(data)
	if err != nil {
		d.state = stateDone
		return err
	}

	if len(d.buf) > 0 {
		n := copy(d.buf, rest)
		d.buf = d.buf[:n]
	} else if len(rest) > 0 {
		d.buf = append(d.buf, rest...)
	}

	return nil
}

// Close marks the end of the input stream. A segment still open at this point
// means the stream was truncated, which fails the parse as a whole: there is
// never a partially successful multipart parse.
func (d *Decoder) Close() error {
	if d.state != stateDone {
		return status.ErrTruncatedForm
	}

	return nil
}

// StartStreams launches the producer goroutines delivering each registered
// file's content through its bounded queue, to be drained concurrently by the
// handler. Call after a successful Close.
func (d *Decoder) StartStreams(ctx context.Context) {
	for _, f := range d.files {
		f.Serve(ctx)
	}
}

// Boundary extracts the boundary parameter from a Content-Type header value.
func Boundary(contentType string) (string, bool) {
	b := headerParam(contentType, "boundary")
	return b, len(b) > 0
}

func (d *Decoder) process(data []byte) (rest []byte, err error) {
	for {
		switch d.state {
		case statePreamble:
			i := bytes.Index(data, d.open)
			if i == -1 {
				return tail(data, len(d.open)-1), nil
			}

			data = data[i+len(d.open):]
			d.state = stateBoundary

		case stateBoundary:
			if len(data) < 2 {
				return data, nil
			}

			if data[0] == '-' && data[1] == '-' {
				// Terminal delimiter. The epilogue is ignored.
				d.state = stateDone
				return nil, nil
			}

			if data[0] != '\r' || data[1] != '\n' {
				return nil, status.ErrBadRequest
			}

			data = data[2:]
			d.state = stateHeaders

		case stateHeaders:
			i := bytes.Index(data, []byte("\r\n\r\n"))
			if i == -1 {
				return data, nil
			}

			if err := d.openSegment(data[:i]); err != nil {
				return nil, err
			}

			data = data[i+4:]

		case stateFieldBody, stateFileBody:
			i := bytes.Index(data, d.delim)
			if i == -1 {
				// Everything but a possible partial delimiter at the very end
				// is known to be segment data.
				safe := len(data) - (len(d.delim) - 1)
				if safe > 0 {
					d.emit(data[:safe])
					data = data[safe:]
				}

				return data, nil
			}

			d.emit(data[:i])
			d.closeSegment()
			data = data[i+len(d.delim):]
			d.state = stateBoundary

		case stateDone:
			return nil, nil
		}
	}
}

// openSegment parses a segment's header block and registers either a field
// accumulator or a file handle. Exactly one of the two happens per segment.
func (d *Decoder) openSegment(block []byte) error {
	var name, filename, contentType string
	hasFilename := false

	for len(block) > 0 {
		var line []byte

		if i := bytes.Index(block, []byte("\r\n")); i != -1 {
			line, block = block[:i], block[i+2:]
		} else {
			line, block = block, nil
		}

		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			return status.ErrBadRequest
		}

		key := strings.ToLower(string(bytes.TrimSpace(line[:colon])))
		value := string(bytes.TrimSpace(line[colon+1:]))

		switch key {
		case "content-disposition":
			name = headerParam(value, "name")
			filename = headerParam(value, "filename")
			hasFilename = len(filename) > 0
		case "content-type":
			contentType = value
		}
	}

	if len(name) == 0 {
		return status.ErrBadRequest
	}

	var err error

	name, d.decodeBuf, err = urlenc.DecodeFormString(name, d.decodeBuf)
	if err != nil {
		return err
	}

	if hasFilename {
		filename, d.decodeBuf, err = urlenc.DecodeFormString(filename, d.decodeBuf)
		if err != nil {
			return err
		}

		d.file = form.New(filename, contentType, d.queueDepth)
		d.files[name] = d.file
		d.state = stateFileBody
		return nil
	}

	d.fieldName = name
	d.fieldAcc = d.fieldAcc[:0]
	d.state = stateFieldBody
	return nil
}

func (d *Decoder) emit(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	if d.state == stateFileBody {
		// The chunk may alias the caller's buffer or the internal tail; the
		// file keeps it until the handler drains, so it must be detached.
		_, _ = d.file.Write(append([]byte(nil), chunk...))
		return
	}

	d.fieldAcc = append(d.fieldAcc, chunk...)
}

func (d *Decoder) closeSegment() {
	if d.state == stateFileBody {
		d.file = nil
		return
	}

	// Repeated field names accumulate in submission order. Invalid UTF-8 is
	// kept best-effort with replacement runes.
	d.fields.Add(d.fieldName, strings.ToValidUTF8(string(d.fieldAcc), "�"))
}

func tail(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}

	return data[len(data)-n:]
}

// headerParam extracts a quoted or bare parameter from a structured header
// value like `form-data; name="file"; filename="a.txt"`.
func headerParam(value, param string) string {
	rest := value

	for {
		semi := strings.IndexByte(rest, ';')
		if semi == -1 {
			return ""
		}

		rest = strings.TrimLeft(rest[semi+1:], " \t")

		eq := strings.IndexByte(rest, '=')
		if eq == -1 {
			continue
		}

		key := strings.TrimSpace(rest[:eq])
		rest = rest[eq+1:]

		var val string
		if len(rest) > 0 && rest[0] == '"' {
			end := strings.IndexByte(rest[1:], '"')
			if end == -1 {
				return ""
			}

			val, rest = rest[1:1+end], rest[end+2:]
		} else if semi := strings.IndexByte(rest, ';'); semi != -1 {
			val, rest = strings.TrimSpace(rest[:semi]), rest[semi:]
		} else {
			val, rest = strings.TrimSpace(rest), ""
		}

		if strings.EqualFold(key, param) {
			return val
		}
	}
}
