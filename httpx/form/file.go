// Package form holds the value types produced by form-body decoding: plain
// fields end up as ordered key-value pairs on the request, uploaded files are
// exposed as File handles streaming their content through a bounded queue.
package form

import (
	"context"
	"io"
)

const DefaultContentType = "application/octet-stream"

// File is an uploaded file. Its content arrives either from a fully
// materialized buffer (small, non-streamed path) or through a bounded chunk
// queue which the decoder side feeds and the handler drains concurrently. The
// closed queue is the end-of-file sentinel.
type File struct {
	Filename    string
	ContentType string

	queue chan []byte
	// pending holds chunks recorded during decoding, before feeding starts.
	pending [][]byte
}

// New returns a queue-backed file. depth bounds the chunk queue: a full queue
// blocks the producer until the consumer drains, which is the upload
// backpressure mechanism.
func New(filename, contentType string, depth int) *File {
	if contentType == "" {
		contentType = DefaultContentType
	}

	return &File{
		Filename:    filename,
		ContentType: contentType,
		queue:       make(chan []byte, depth),
	}
}

// Memory returns a file whose content is already materialized. Used for small
// bodies and in tests.
func Memory(filename, contentType string, content []byte) *File {
	f := New(filename, contentType, 1)
	if len(content) > 0 {
		f.pending = [][]byte{content}
	}
	f.Serve(context.Background())

	return f
}

// Write records a chunk for later feeding. The slice is retained, not copied;
// the producer must keep it valid until the file is drained. Never fails, the
// error is there to satisfy io.Writer.
func (f *File) Write(chunk []byte) (n int, err error) {
	f.pending = append(f.pending, chunk)
	return len(chunk), nil
}

// Serve starts the producer goroutine feeding recorded chunks through the
// bounded queue, closing it afterwards. Pushes block when the queue is full;
// ctx cancellation abandons the feed, still closing the queue so a draining
// consumer unblocks.
func (f *File) Serve(ctx context.Context) {
	chunks := f.pending
	f.pending = nil

	go func() {
		defer close(f.queue)

		for _, chunk := range chunks {
			if err := f.Push(ctx, chunk); err != nil {
				return
			}
		}
	}()
}

// Push sends one chunk into the queue, blocking while it's full.
func (f *File) Push(ctx context.Context, chunk []byte) error {
	select {
	case f.queue <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseQueue signals end-of-file to the consumer. Must be called exactly once
// by producers pushing directly instead of via Serve.
func (f *File) CloseQueue() {
	close(f.queue)
}

// Next returns the next content chunk, io.EOF past the last one.
func (f *File) Next(ctx context.Context) ([]byte, error) {
	select {
	case chunk, ok := <-f.queue:
		if !ok {
			return nil, io.EOF
		}

		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Bytes drains the whole file into one slice.
func (f *File) Bytes(ctx context.Context) ([]byte, error) {
	var content []byte

	for {
		chunk, err := f.Next(ctx)
		switch err {
		case nil:
			content = append(content, chunk...)
		case io.EOF:
			return content, nil
		default:
			return nil, err
		}
	}
}
