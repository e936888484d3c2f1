package config

import "time"

type Session struct {
	// TTL is the session expiry window, measured from last access. Enforced by
	// the backend, not the dispatcher.
	TTL time.Duration
	// CookieName is the cookie carrying the session id.
	CookieName string
}

type Body struct {
	// BufferPrealloc is the initial capacity of the buffer accumulating the
	// request body.
	BufferPrealloc int
	// FeedChunkSize is the size of the slices the buffered body is fed into the
	// multipart decoder with.
	FeedChunkSize int
	// FileQueueDepth bounds the per-file chunk queue between the multipart
	// decoder and the handler. A full queue blocks the producer.
	FileQueueDepth int
	// FormPrealloc is the initial kv.Storage capacity for decoded form fields.
	FormPrealloc int
}

type Headers struct {
	// Prealloc is the initial kv.Storage capacity for request headers.
	Prealloc int
}

type Config struct {
	Session Session
	Body    Body
	Headers Headers
}

func Default() Config {
	return Config{
		Session: Session{
			TTL:        8 * time.Hour,
			CookieName: "session_id",
		},
		Body: Body{
			BufferPrealloc: 1024,
			FeedChunkSize:  64 * 1024,
			FileQueueDepth: 64,
			FormPrealloc:   8,
		},
		Headers: Headers{
			Prealloc: 16,
		},
	}
}

// Fill replaces zero fields of the passed config with defaults, so partially
// constructed configs stay usable.
func Fill(cfg Config) Config {
	def := Default()

	cfg.Session.TTL = or(cfg.Session.TTL, def.Session.TTL)
	cfg.Session.CookieName = or(cfg.Session.CookieName, def.Session.CookieName)
	cfg.Body.BufferPrealloc = or(cfg.Body.BufferPrealloc, def.Body.BufferPrealloc)
	cfg.Body.FeedChunkSize = or(cfg.Body.FeedChunkSize, def.Body.FeedChunkSize)
	cfg.Body.FileQueueDepth = or(cfg.Body.FileQueueDepth, def.Body.FileQueueDepth)
	cfg.Body.FormPrealloc = or(cfg.Body.FormPrealloc, def.Body.FormPrealloc)
	cfg.Headers.Prealloc = or(cfg.Headers.Prealloc, def.Headers.Prealloc)

	return cfg
}

func or[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}

	return value
}
