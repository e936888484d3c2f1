package dispatch

import (
	"context"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/flrdv/uf"
	"github.com/sirupsen/logrus"
	"github.com/velo-web/velo/httpx"
	"github.com/velo-web/velo/kv"
	"github.com/velo-web/velo/status"
	"github.com/velo-web/velo/transport"
)

const defaultContentType = "text/html; charset=utf-8"

// send normalizes the response body and emits the outbound event sequence.
func (d *Dispatcher) send(ctx context.Context, recv transport.Receiver, send transport.Sender, resp httpx.Response) error {
	headers := d.sanitizeHeaders(resp.Headers)

	switch body := resp.Body.(type) {
	case nil:
		return d.sendSingle(ctx, send, resp.Status, headers, nil)

	case string:
		return d.sendSingle(ctx, send, resp.Status, headers, uf.S2B(body))

	case []byte:
		return d.sendSingle(ctx, send, resp.Status, headers, body)

	case httpx.Streamer:
		return d.sendStream(ctx, recv, send, resp.Status, headers, body)

	case []string:
		chunks := make([][]byte, len(body))
		for i, chunk := range body {
			chunks[i] = uf.S2B(chunk)
		}

		return d.sendChunks(ctx, send, resp.Status, headers, chunks)

	case [][]byte:
		return d.sendChunks(ctx, send, resp.Status, headers, body)

	default:
		// Structured data is serialized to JSON.
		raw, err := json.Marshal(body)
		if err != nil {
			d.Log.WithError(err).Error("response serialization failed")
			return d.sendSingle(ctx, send, status.InternalServerError,
				d.sanitizeHeaders(nil), uf.S2B(httpx.StatusText(status.InternalServerError)))
		}

		headers = setContentType(headers, "application/json")
		return d.sendSingle(ctx, send, resp.Status, headers, raw)
	}
}

func (d *Dispatcher) sendSingle(ctx context.Context, send transport.Sender, code status.Code, headers []kv.Pair, body []byte) error {
	if err := d.sendStart(ctx, send, code, headers); err != nil {
		return err
	}

	return send(ctx, transport.Event{Type: transport.EventResponseBody, Body: body})
}

// sendChunks forwards a finite chunk sequence eagerly: bounded work, nothing
// to race a disconnect against.
func (d *Dispatcher) sendChunks(ctx context.Context, send transport.Sender, code status.Code, headers []kv.Pair, chunks [][]byte) error {
	if err := d.sendStart(ctx, send, code, headers); err != nil {
		return err
	}

	for _, chunk := range chunks {
		ev := transport.Event{Type: transport.EventResponseBody, Body: chunk, More: true}
		if err := send(ctx, ev); err != nil {
			return err
		}
	}

	return send(ctx, transport.Event{Type: transport.EventResponseBody})
}

// sendStream races chunk production against a peer disconnect. A disconnect
// cancels the producer deterministically; the streamer's Close runs exactly
// once on every exit path.
func (d *Dispatcher) sendStream(ctx context.Context, recv transport.Receiver, send transport.Sender, code status.Code, headers []kv.Pair, stream httpx.Streamer) error {
	if err := d.sendStart(ctx, send, code, headers); err != nil {
		_ = stream.Close()
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		if err := stream.Close(); err != nil {
			d.Log.WithError(err).Warn("stream close failed")
		}
	}()

	// Watch the inbound stream for a disconnect while chunks flow out. The
	// watcher exits when the dispatch ends and streamCtx is canceled.
	go func() {
		for {
			ev, err := recv(streamCtx)
			if err != nil {
				return
			}

			if ev.Type == transport.EventDisconnect {
				cancel()
				return
			}
		}
	}()

	for {
		chunk, err := stream.Next(streamCtx)
		switch {
		case err == nil:
			ev := transport.Event{Type: transport.EventResponseBody, Body: chunk, More: true}
			if err := send(streamCtx, ev); err != nil {
				return nil
			}

		case err == io.EOF:
			// Normal exhaustion: terminal empty frame.
			return send(ctx, transport.Event{Type: transport.EventResponseBody})

		default:
			// Canceled by disconnect, or the stream failed. Either way no
			// further frames are sent.
			if streamCtx.Err() == nil {
				d.Log.WithError(err).Warn("response stream failed")
			}

			return nil
		}
	}
}

func (d *Dispatcher) sendStart(ctx context.Context, send transport.Sender, code status.Code, headers []kv.Pair) error {
	return send(ctx, transport.Event{
		Type:    transport.EventResponseStart,
		Status:  int(code),
		Headers: headers,
	})
}

// sanitizeHeaders drops any header containing a line break (header-injection
// defense) and guarantees a Content-Type is present.
func (d *Dispatcher) sanitizeHeaders(headers []kv.Pair) []kv.Pair {
	sanitized := make([]kv.Pair, 0, len(headers)+1)
	hasContentType := false

	for _, h := range headers {
		if strings.ContainsAny(h.Key, "\r\n") || strings.ContainsAny(h.Value, "\r\n") {
			d.Log.WithFields(logrus.Fields{
				"header": h.Key,
			}).Warn("header injection attempt detected, header dropped")
			continue
		}

		if strings.EqualFold(h.Key, "content-type") {
			hasContentType = true
		}

		sanitized = append(sanitized, h)
	}

	if !hasContentType {
		sanitized = append(sanitized, kv.Pair{Key: "Content-Type", Value: defaultContentType})
	}

	return sanitized
}

// setContentType overrides the content type appended by sanitizeHeaders.
func setContentType(headers []kv.Pair, value string) []kv.Pair {
	for i, h := range headers {
		if strings.EqualFold(h.Key, "content-type") {
			headers[i] = kv.Pair{Key: "Content-Type", Value: value}
			return headers
		}
	}

	return append(headers, kv.Pair{Key: "Content-Type", Value: value})
}
