package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/velo-web/velo/config"
	"github.com/velo-web/velo/httpx"
	"github.com/velo-web/velo/httpx/form"
	"github.com/velo-web/velo/internal/wiretest"
	"github.com/velo-web/velo/kv"
	"github.com/velo-web/velo/middleware"
	"github.com/velo-web/velo/session"
	"github.com/velo-web/velo/transport"
	"github.com/velo-web/velo/websocket"
)

func newDispatcher() *Dispatcher {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return &Dispatcher{
		Config:   config.Default(),
		Log:      log,
		Sessions: session.NewMemory(),
		Routes:   make(map[string]Route),
		WSRoutes: make(map[string]WSRoute),
	}
}

func httpScope(method, path, query string, headers ...kv.Pair) transport.Scope {
	return transport.Scope{
		Kind:     transport.KindHTTP,
		Method:   method,
		Path:     path,
		RawQuery: []byte(query),
		Headers:  headers,
	}
}

func dispatchHTTP(t *testing.T, d *Dispatcher, scope transport.Scope, events ...transport.Event) *wiretest.Conn {
	t.Helper()

	conn := wiretest.New(events...)
	require.NoError(t, d.Dispatch(context.Background(), scope, conn.Receiver(), conn.Sender()))

	return conn
}

// responseOf decodes the recorded outbound events back into status, headers
// and the concatenated body.
func responseOf(t *testing.T, conn *wiretest.Conn) (int, []kv.Pair, string) {
	t.Helper()

	sent := conn.Sent()
	require.NotEmpty(t, sent)
	require.Equal(t, transport.EventResponseStart, sent[0].Type)

	var body strings.Builder
	for _, ev := range sent[1:] {
		require.Equal(t, transport.EventResponseBody, ev.Type)
		body.Write(ev.Body)
	}

	return sent[0].Status, sent[0].Headers, body.String()
}

func headerValue(headers []kv.Pair, key string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value, true
		}
	}

	return "", false
}

func TestRouting(t *testing.T) {
	d := newDispatcher()
	d.Routes["greet"] = Route{
		Name: "greet",
		Params: []httpx.Param{httpx.Optional("name", "Guest")},
		Handler: func(_ context.Context, _ *httpx.Request, args httpx.Args) (httpx.Response, error) {
			return httpx.OK("Hello, " + args.String(0) + "!"), nil
		},
	}

	t.Run("path parameter", func(t *testing.T) {
		conn := dispatchHTTP(t, d, httpScope("GET", "/greet/Alice", ""))
		code, _, body := responseOf(t, conn)
		require.Equal(t, 200, code)
		require.Equal(t, "Hello, Alice!", body)
	})

	t.Run("default fills missing segment", func(t *testing.T) {
		conn := dispatchHTTP(t, d, httpScope("GET", "/greet", ""))
		code, _, body := responseOf(t, conn)
		require.Equal(t, 200, code)
		require.Equal(t, "Hello, Guest!", body)
	})

	t.Run("query parameter", func(t *testing.T) {
		conn := dispatchHTTP(t, d, httpScope("GET", "/greet", "name=Bob"))
		_, _, body := responseOf(t, conn)
		require.Equal(t, "Hello, Bob!", body)
	})

	t.Run("underscore prefix is unroutable", func(t *testing.T) {
		d := newDispatcher()
		d.Routes["_private"] = Route{
			Name: "_private",
			Handler: func(context.Context, *httpx.Request, httpx.Args) (httpx.Response, error) {
				return httpx.OK("secret"), nil
			},
		}

		conn := dispatchHTTP(t, d, httpScope("GET", "/_private", ""))
		code, _, body := responseOf(t, conn)
		require.Equal(t, 404, code)
		require.Equal(t, "404 Not Found", body)
	})

	t.Run("unknown route without index", func(t *testing.T) {
		conn := dispatchHTTP(t, d, httpScope("GET", "/nope", ""))
		code, _, _ := responseOf(t, conn)
		require.Equal(t, 404, code)
	})

	t.Run("missing required parameter", func(t *testing.T) {
		d := newDispatcher()
		d.Routes["echo"] = Route{
			Name:   "echo",
			Params: []httpx.Param{httpx.Required("word")},
			Handler: func(_ context.Context, _ *httpx.Request, args httpx.Args) (httpx.Response, error) {
				return httpx.OK(args.String(0)), nil
			},
		}

		conn := dispatchHTTP(t, d, httpScope("GET", "/echo", ""))
		code, _, body := responseOf(t, conn)
		require.Equal(t, 400, code)
		require.Equal(t, "400 Bad Request: Missing required parameter 'word'", body)
	})
}

func TestIndexFallback(t *testing.T) {
	d := newDispatcher()
	d.Routes[indexRoute] = Route{
		Name:   indexRoute,
		Params: []httpx.Param{httpx.Variadic("path")},
		Handler: func(_ context.Context, _ *httpx.Request, args httpx.Args) (httpx.Response, error) {
			return httpx.OK(strings.Join(args.Strings(0), "|")), nil
		},
	}

	t.Run("root path", func(t *testing.T) {
		conn := dispatchHTTP(t, d, httpScope("GET", "/", ""))
		code, _, body := responseOf(t, conn)
		require.Equal(t, 200, code)
		require.Equal(t, "", body)
	})

	t.Run("fallback sees entire path", func(t *testing.T) {
		conn := dispatchHTTP(t, d, httpScope("GET", "/docs/intro/setup", ""))
		_, _, body := responseOf(t, conn)
		require.Equal(t, "docs|intro|setup", body)
	})

	t.Run("fallback consuming nothing is a miss", func(t *testing.T) {
		d := newDispatcher()
		d.Routes[indexRoute] = Route{
			Name: indexRoute,
			Handler: func(context.Context, *httpx.Request, httpx.Args) (httpx.Response, error) {
				return httpx.OK("home"), nil
			},
		}

		conn := dispatchHTTP(t, d, httpScope("GET", "/", ""))
		_, _, body := responseOf(t, conn)
		require.Equal(t, "home", body)

		conn = dispatchHTTP(t, d, httpScope("GET", "/anything", ""))
		code, _, _ := responseOf(t, conn)
		require.Equal(t, 404, code)
	})
}

func TestBodyParsing(t *testing.T) {
	newLogin := func() *Dispatcher {
		d := newDispatcher()
		d.Routes["login"] = Route{
			Name:   "login",
			Params: []httpx.Param{httpx.Required("username"), httpx.Required("pin")},
			Handler: func(_ context.Context, _ *httpx.Request, args httpx.Args) (httpx.Response, error) {
				return httpx.OK(args.String(0) + ":" + args.String(1)), nil
			},
		}

		return d
	}

	t.Run("json object", func(t *testing.T) {
		d := newLogin()
		conn := dispatchHTTP(t, d,
			httpScope("POST", "/login", "", kv.Pair{Key: "Content-Type", Value: "application/json"}),
			transport.Event{Type: transport.EventRequest, Body: []byte(`{"username":"alice","pin":7}`)},
		)

		code, _, body := responseOf(t, conn)
		require.Equal(t, 200, code)
		require.Equal(t, "alice:7", body)
	})

	t.Run("decoded json body is retained", func(t *testing.T) {
		d := newDispatcher()
		d.Routes["profile"] = Route{
			Name: "profile",
			Handler: func(_ context.Context, req *httpx.Request, _ httpx.Args) (httpx.Response, error) {
				object, ok := req.JSON.(map[string]any)
				require.True(t, ok)

				nested := object["profile"].(map[string]any)
				return httpx.OK(nested["city"].(string)), nil
			},
		}

		conn := dispatchHTTP(t, d,
			httpScope("POST", "/profile", "", kv.Pair{Key: "Content-Type", Value: "application/json"}),
			transport.Event{Type: transport.EventRequest, Body: []byte(`{"profile":{"city":"Oslo"}}`)},
		)

		_, _, body := responseOf(t, conn)
		require.Equal(t, "Oslo", body)
	})

	t.Run("bad json", func(t *testing.T) {
		d := newLogin()
		conn := dispatchHTTP(t, d,
			httpScope("POST", "/login", "", kv.Pair{Key: "Content-Type", Value: "application/json"}),
			transport.Event{Type: transport.EventRequest, Body: []byte(`{"username":`)},
		)

		code, _, body := responseOf(t, conn)
		require.Equal(t, 400, code)
		require.Equal(t, "400 Bad Request: Bad JSON", body)
	})

	t.Run("urlencoded form", func(t *testing.T) {
		d := newLogin()
		conn := dispatchHTTP(t, d,
			httpScope("POST", "/login", "", kv.Pair{Key: "Content-Type", Value: "application/x-www-form-urlencoded"}),
			transport.Event{Type: transport.EventRequest, Body: []byte("username=bob&pin=1234")},
		)

		_, _, body := responseOf(t, conn)
		require.Equal(t, "bob:1234", body)
	})

	t.Run("chunked body events accumulate", func(t *testing.T) {
		d := newLogin()
		conn := dispatchHTTP(t, d,
			httpScope("POST", "/login", "", kv.Pair{Key: "Content-Type", Value: "application/x-www-form-urlencoded"}),
			transport.Event{Type: transport.EventRequest, Body: []byte("username=bo"), More: true},
			transport.Event{Type: transport.EventRequest, Body: []byte("b&pin=12")},
		)

		_, _, body := responseOf(t, conn)
		require.Equal(t, "bob:12", body)
	})

	t.Run("missing multipart boundary", func(t *testing.T) {
		d := newLogin()
		conn := dispatchHTTP(t, d,
			httpScope("POST", "/login", "", kv.Pair{Key: "Content-Type", Value: "multipart/form-data"}),
			transport.Event{Type: transport.EventRequest, Body: []byte("irrelevant")},
		)

		code, _, body := responseOf(t, conn)
		require.Equal(t, 400, code)
		require.Equal(t, "400 Bad Request: Missing boundary", body)
	})

	t.Run("disconnect during body aborts silently", func(t *testing.T) {
		d := newLogin()
		conn := dispatchHTTP(t, d,
			httpScope("POST", "/login", "", kv.Pair{Key: "Content-Type", Value: "application/json"}),
			transport.Event{Type: transport.EventRequest, Body: []byte(`{"user`), More: true},
			transport.Event{Type: transport.EventDisconnect},
		)

		require.Empty(t, conn.Sent())
	})
}

func TestMultipartUpload(t *testing.T) {
	const boundary = "velobound"

	body := strings.Join([]string{
		"--" + boundary,
		`Content-Disposition: form-data; name="note"`,
		"",
		"quarterly",
		"--" + boundary,
		`Content-Disposition: form-data; name="report"; filename="report.csv"`,
		"Content-Type: text/csv",
		"",
		"a,b\n1,2",
		"--" + boundary + "--",
		"",
	}, "\r\n")

	d := newDispatcher()
	d.Routes["upload"] = Route{
		Name:   "upload",
		Params: []httpx.Param{httpx.Required("note"), httpx.Required("report")},
		Handler: func(ctx context.Context, _ *httpx.Request, args httpx.Args) (httpx.Response, error) {
			file := args.File(1)
			content, err := file.Bytes(ctx)
			if err != nil {
				return httpx.Response{}, err
			}

			return httpx.OK(args.String(0) + "/" + file.Filename + "/" + string(content)), nil
		},
	}

	conn := dispatchHTTP(t, d,
		httpScope("POST", "/upload", "",
			kv.Pair{Key: "Content-Type", Value: "multipart/form-data; boundary=" + boundary}),
		transport.Event{Type: transport.EventRequest, Body: []byte(body)},
	)

	code, _, respBody := responseOf(t, conn)
	require.Equal(t, 200, code)
	require.Equal(t, "quarterly/report.csv/a,b\n1,2", respBody)
}

func TestMultipartUndrainedFileIsReleased(t *testing.T) {
	const boundary = "velobound"

	body := strings.Join([]string{
		"--" + boundary,
		`Content-Disposition: form-data; name="report"; filename="big.bin"`,
		"",
		strings.Repeat("x", 1024),
		"--" + boundary + "--",
		"",
	}, "\r\n")

	d := newDispatcher()
	// Small feeds and a depth-one queue guarantee the feeder outpaces the
	// queue and parks mid-upload.
	d.Config.Body.FeedChunkSize = 32
	d.Config.Body.FileQueueDepth = 1

	var file *form.File
	d.Routes["upload"] = Route{
		Name: "upload",
		Handler: func(_ context.Context, req *httpx.Request, _ httpx.Args) (httpx.Response, error) {
			file = req.Files["report"]
			return httpx.OK("skipped"), nil
		},
	}

	conn := dispatchHTTP(t, d,
		httpScope("POST", "/upload", "",
			kv.Pair{Key: "Content-Type", Value: "multipart/form-data; boundary=" + boundary}),
		transport.Event{Type: transport.EventRequest, Body: []byte(body)},
	)

	code, _, _ := responseOf(t, conn)
	require.Equal(t, 200, code)
	require.NotNil(t, file)

	// The dispatch is over; its canceled context must have released the
	// feeder, which closes the queue. Draining reaches EOF instead of
	// hanging on an abandoned producer.
	readCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for {
		_, err := file.Next(readCtx)
		if err == io.EOF {
			break
		}

		require.NoError(t, err, "queue must be closed once the dispatch ends")
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("before hook short-circuits", func(t *testing.T) {
		d := newDispatcher()
		handlerRan := false
		afterRan := false
		d.Routes["admin"] = Route{
			Name: "admin",
			Handler: func(context.Context, *httpx.Request, httpx.Args) (httpx.Response, error) {
				handlerRan = true
				return httpx.OK("admin"), nil
			},
		}
		d.Middlewares = []middleware.HTTP{
			middleware.BeforeFunc(func(_ context.Context, req *httpx.Request) *httpx.Response {
				if req.Headers.Value("authorization") == "" {
					resp := httpx.Respond(403, "403 Forbidden")
					return &resp
				}

				return nil
			}),
			middleware.AfterFunc(func(_ context.Context, _ *httpx.Request, resp httpx.Response) *httpx.Response {
				afterRan = true
				return nil
			}),
		}

		conn := dispatchHTTP(t, d, httpScope("GET", "/admin", ""))
		code, _, body := responseOf(t, conn)
		require.Equal(t, 403, code)
		require.Equal(t, "403 Forbidden", body)
		require.False(t, handlerRan)
		require.False(t, afterRan)

		conn = dispatchHTTP(t, d, httpScope("GET", "/admin", "",
			kv.Pair{Key: "Authorization", Value: "Bearer x"}))
		code, _, _ = responseOf(t, conn)
		require.Equal(t, 200, code)
		require.True(t, handlerRan)
		require.True(t, afterRan)
	})

	t.Run("after hooks are cumulative", func(t *testing.T) {
		d := newDispatcher()
		d.Routes["index"] = Route{
			Name: "index",
			Handler: func(context.Context, *httpx.Request, httpx.Args) (httpx.Response, error) {
				return httpx.OK("base"), nil
			},
		}
		d.Middlewares = []middleware.HTTP{
			middleware.AfterFunc(func(_ context.Context, _ *httpx.Request, resp httpx.Response) *httpx.Response {
				next := httpx.OK(resp.Body.(string) + "+first")
				return &next
			}),
			middleware.AfterFunc(func(_ context.Context, _ *httpx.Request, resp httpx.Response) *httpx.Response {
				next := httpx.OK(resp.Body.(string) + "+second")
				return &next
			}),
		}

		conn := dispatchHTTP(t, d, httpScope("GET", "/", ""))
		_, _, body := responseOf(t, conn)
		require.Equal(t, "base+first+second", body)
	})

	t.Run("after hooks see handler errors", func(t *testing.T) {
		d := newDispatcher()
		var observed string
		d.Routes["boom"] = Route{
			Name: "boom",
			Handler: func(context.Context, *httpx.Request, httpx.Args) (httpx.Response, error) {
				return httpx.Response{}, errors.New("database gone")
			},
		}
		d.Middlewares = []middleware.HTTP{
			middleware.AfterFunc(func(_ context.Context, _ *httpx.Request, resp httpx.Response) *httpx.Response {
				observed = resp.Body.(string)
				return nil
			}),
		}

		conn := dispatchHTTP(t, d, httpScope("GET", "/boom", ""))
		code, _, body := responseOf(t, conn)
		require.Equal(t, 500, code)
		require.Equal(t, "500 Internal Server Error", body)
		require.Equal(t, "500 Internal Server Error", observed)
	})
}

func TestHandlerPanicIsContained(t *testing.T) {
	d := newDispatcher()
	d.Routes["panic"] = Route{
		Name: "panic",
		Handler: func(context.Context, *httpx.Request, httpx.Args) (httpx.Response, error) {
			panic("unreachable branch reached")
		},
	}

	conn := dispatchHTTP(t, d, httpScope("GET", "/panic", ""))
	code, _, body := responseOf(t, conn)
	require.Equal(t, 500, code)
	require.Equal(t, "500 Internal Server Error", body)
}

func TestSessionLifecycle(t *testing.T) {
	d := newDispatcher()
	d.Routes["login"] = Route{
		Name: "login",
		Handler: func(_ context.Context, req *httpx.Request, _ httpx.Args) (httpx.Response, error) {
			req.Session["user"] = "alice"
			return httpx.OK("in"), nil
		},
	}
	d.Routes["whoami"] = Route{
		Name: "whoami",
		Handler: func(_ context.Context, req *httpx.Request, _ httpx.Args) (httpx.Response, error) {
			user, _ := req.Session["user"].(string)
			return httpx.OK(user), nil
		},
	}
	d.Routes["ping"] = Route{
		Name: "ping",
		Handler: func(context.Context, *httpx.Request, httpx.Args) (httpx.Response, error) {
			return httpx.OK("pong"), nil
		},
	}

	conn := dispatchHTTP(t, d, httpScope("GET", "/login", ""))
	_, headers, _ := responseOf(t, conn)

	setCookie, found := headerValue(headers, "set-cookie")
	require.True(t, found, "first session write must mint a cookie")
	require.True(t, strings.HasPrefix(setCookie, "session_id="))
	require.Contains(t, setCookie, "; Path=/; SameSite=Lax; HttpOnly; Secure")

	id := strings.TrimPrefix(setCookie, "session_id=")
	id = id[:strings.IndexByte(id, ';')]
	require.NotEmpty(t, id)

	t.Run("data survives across requests", func(t *testing.T) {
		conn := dispatchHTTP(t, d, httpScope("GET", "/whoami", "",
			kv.Pair{Key: "Cookie", Value: "session_id=" + id}))
		_, headers, body := responseOf(t, conn)
		require.Equal(t, "alice", body)

		_, found := headerValue(headers, "set-cookie")
		require.False(t, found, "a carried id must not be re-minted")
	})

	t.Run("untouched session sets no cookie", func(t *testing.T) {
		conn := dispatchHTTP(t, d, httpScope("GET", "/ping", ""))
		_, headers, _ := responseOf(t, conn)
		_, found := headerValue(headers, "set-cookie")
		require.False(t, found)
	})
}

func TestResponseNormalization(t *testing.T) {
	serve := func(t *testing.T, resp httpx.Response) *wiretest.Conn {
		d := newDispatcher()
		d.Routes["index"] = Route{
			Name: "index",
			Handler: func(context.Context, *httpx.Request, httpx.Args) (httpx.Response, error) {
				return resp, nil
			},
		}

		return dispatchHTTP(t, d, httpScope("GET", "/", ""))
	}

	t.Run("string gets default content type", func(t *testing.T) {
		_, headers, body := responseOf(t, serve(t, httpx.OK("<h1>hi</h1>")))
		require.Equal(t, "<h1>hi</h1>", body)

		ct, _ := headerValue(headers, "content-type")
		require.Equal(t, "text/html; charset=utf-8", ct)
	})

	t.Run("map serializes to json", func(t *testing.T) {
		_, headers, body := responseOf(t, serve(t, httpx.OK(map[string]any{"ok": true})))
		require.JSONEq(t, `{"ok":true}`, body)

		ct, _ := headerValue(headers, "content-type")
		require.Equal(t, "application/json", ct)
	})

	t.Run("string slice streams eagerly", func(t *testing.T) {
		conn := serve(t, httpx.OK([]string{"alpha", "beta"}))
		sent := conn.Sent()
		require.Len(t, sent, 4)
		require.Equal(t, transport.EventResponseStart, sent[0].Type)
		require.Equal(t, []byte("alpha"), sent[1].Body)
		require.True(t, sent[1].More)
		require.Equal(t, []byte("beta"), sent[2].Body)
		require.True(t, sent[2].More)
		require.False(t, sent[3].More, "the chunk sequence must end with a terminal frame")
	})

	t.Run("redirect", func(t *testing.T) {
		_, headers, _ := responseOf(t, serve(t, httpx.Redirect("/elsewhere")))
		loc, found := headerValue(headers, "location")
		require.True(t, found)
		require.Equal(t, "/elsewhere", loc)
	})

	t.Run("header with line break is dropped", func(t *testing.T) {
		resp := httpx.OK("x").
			Header("X-Legit", "yes").
			Header("X-Evil", "v\r\nInjected: 1")

		_, headers, _ := responseOf(t, serve(t, resp))

		_, found := headerValue(headers, "x-evil")
		require.False(t, found)

		legit, found := headerValue(headers, "x-legit")
		require.True(t, found)
		require.Equal(t, "yes", legit)
	})
}

// scriptStream yields its chunks, then either reports EOF or parks on the
// context, imitating a producer waiting for more data.
type scriptStream struct {
	chunks [][]byte
	park   bool
	closed atomic.Int32
}

func (s *scriptStream) Next(ctx context.Context) ([]byte, error) {
	if len(s.chunks) > 0 {
		chunk := s.chunks[0]
		s.chunks = s.chunks[1:]
		return chunk, nil
	}

	if s.park {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	return nil, io.EOF
}

func (s *scriptStream) Close() error {
	s.closed.Add(1)
	return nil
}

func TestStreaming(t *testing.T) {
	newStreamRoute := func(stream *scriptStream) *Dispatcher {
		d := newDispatcher()
		d.Routes["feed"] = Route{
			Name: "feed",
			Handler: func(context.Context, *httpx.Request, httpx.Args) (httpx.Response, error) {
				return httpx.OK(stream), nil
			},
		}

		return d
	}

	t.Run("runs to exhaustion", func(t *testing.T) {
		stream := &scriptStream{chunks: [][]byte{[]byte("one"), []byte("two")}}
		conn := dispatchHTTP(t, newStreamRoute(stream), httpScope("GET", "/feed", ""))

		sent := conn.Sent()
		require.Len(t, sent, 4)
		require.Equal(t, []byte("one"), sent[1].Body)
		require.Equal(t, []byte("two"), sent[2].Body)
		require.False(t, sent[3].More)
		require.Equal(t, int32(1), stream.closed.Load())
	})

	t.Run("disconnect cancels the producer", func(t *testing.T) {
		stream := &scriptStream{chunks: [][]byte{[]byte("one"), []byte("two")}, park: true}
		d := newStreamRoute(stream)
		conn := wiretest.New()

		done := make(chan error, 1)
		go func() {
			done <- d.Dispatch(context.Background(), httpScope("GET", "/feed", ""), conn.Receiver(), conn.Sender())
		}()

		require.Eventually(t, func() bool {
			return len(conn.Sent()) == 3
		}, time.Second, time.Millisecond, "both chunks should go out before the producer parks")

		conn.Push(transport.Event{Type: transport.EventDisconnect})

		require.NoError(t, <-done)
		require.Equal(t, int32(1), stream.closed.Load(), "Close must run exactly once")
		require.Len(t, conn.Sent(), 3, "no frames after the disconnect")
	})
}

func TestWebSocketDispatch(t *testing.T) {
	wsScope := func(path string, headers ...kv.Pair) transport.Scope {
		return transport.Scope{Kind: transport.KindWebSocket, Path: path, Headers: headers}
	}

	echoRoute := func() WSRoute {
		return WSRoute{
			Name: "echo",
			Handler: func(ctx context.Context, conn *websocket.Channel, _ *httpx.Request, _ httpx.Args) error {
				if err := conn.Accept(ctx, ""); err != nil {
					return err
				}

				for {
					msg, err := conn.ReceiveText(ctx)
					if err != nil {
						return err
					}

					if err := conn.SendText(ctx, "Echo: "+msg); err != nil {
						return err
					}
				}
			},
		}
	}

	t.Run("echo round trip", func(t *testing.T) {
		d := newDispatcher()
		d.WSRoutes["echo"] = echoRoute()

		conn := wiretest.New(
			transport.Event{Type: transport.EventWSConnect},
			transport.Event{Type: transport.EventWSReceive, Text: "Hello"},
			transport.Event{Type: transport.EventWSDisconnect},
		)
		require.NoError(t, d.Dispatch(context.Background(), wsScope("/echo"), conn.Receiver(), conn.Sender()))

		sent := conn.Sent()
		require.Len(t, sent, 2)
		require.Equal(t, transport.EventWSAccept, sent[0].Type)
		require.Equal(t, transport.EventWSSend, sent[1].Type)
		require.Equal(t, "Echo: Hello", sent[1].Text)
	})

	t.Run("unknown route is rejected", func(t *testing.T) {
		d := newDispatcher()
		d.WSRoutes["echo"] = echoRoute()

		conn := wiretest.New(transport.Event{Type: transport.EventWSConnect})
		require.NoError(t, d.Dispatch(context.Background(), wsScope("/nope"), conn.Receiver(), conn.Sender()))

		sent := conn.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, transport.EventWSClose, sent[0].Type)
		require.Equal(t, websocket.ClosePolicyViolation, sent[0].Code)
	})

	t.Run("missing parameter is rejected", func(t *testing.T) {
		d := newDispatcher()
		route := echoRoute()
		route.Params = []httpx.Param{httpx.Required("room")}
		d.WSRoutes["echo"] = route

		conn := wiretest.New(transport.Event{Type: transport.EventWSConnect})
		require.NoError(t, d.Dispatch(context.Background(), wsScope("/echo"), conn.Receiver(), conn.Sender()))

		sent := conn.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, transport.EventWSClose, sent[0].Type)
		require.Equal(t, websocket.ClosePolicyViolation, sent[0].Code)
		require.Equal(t, "Missing required parameter 'room'", sent[0].Reason)
	})

	t.Run("before hook rejects", func(t *testing.T) {
		d := newDispatcher()
		d.WSRoutes["echo"] = echoRoute()
		d.WSMiddlewares = []middleware.WebSocket{wsGate{}}

		conn := wiretest.New(transport.Event{Type: transport.EventWSConnect})
		require.NoError(t, d.Dispatch(context.Background(), wsScope("/echo"), conn.Receiver(), conn.Sender()))

		sent := conn.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, transport.EventWSClose, sent[0].Type)
		require.Equal(t, websocket.ClosePolicyViolation, sent[0].Code)
		require.Equal(t, "not today", sent[0].Reason)
	})

	t.Run("handler error closes with 1011", func(t *testing.T) {
		d := newDispatcher()
		d.WSRoutes["echo"] = WSRoute{
			Name: "echo",
			Handler: func(ctx context.Context, conn *websocket.Channel, _ *httpx.Request, _ httpx.Args) error {
				if err := conn.Accept(ctx, ""); err != nil {
					return err
				}

				return errors.New("sensitive internals")
			},
		}

		conn := wiretest.New(transport.Event{Type: transport.EventWSConnect})
		require.NoError(t, d.Dispatch(context.Background(), wsScope("/echo"), conn.Receiver(), conn.Sender()))

		sent := conn.Sent()
		require.Len(t, sent, 2)
		require.Equal(t, transport.EventWSClose, sent[1].Type)
		require.Equal(t, websocket.CloseInternalError, sent[1].Code)
		require.Empty(t, sent[1].Reason, "error detail must not cross the wire")
	})

	t.Run("error before accept still answers the connect", func(t *testing.T) {
		d := newDispatcher()
		d.WSRoutes["echo"] = WSRoute{
			Name: "echo",
			Handler: func(context.Context, *websocket.Channel, *httpx.Request, httpx.Args) error {
				return errors.New("refused upstream")
			},
		}

		conn := wiretest.New(transport.Event{Type: transport.EventWSConnect})
		require.NoError(t, d.Dispatch(context.Background(), wsScope("/echo"), conn.Receiver(), conn.Sender()))

		sent := conn.Sent()
		require.Len(t, sent, 1, "the pending connect must be answered")
		require.Equal(t, transport.EventWSClose, sent[0].Type)
		require.Equal(t, websocket.CloseInternalError, sent[0].Code)
	})

	t.Run("handler error skips session save and after hooks", func(t *testing.T) {
		d := newDispatcher()
		recorder := &wsRecorder{}
		d.WSMiddlewares = []middleware.WebSocket{recorder}

		var sid string
		d.WSRoutes["echo"] = WSRoute{
			Name: "echo",
			Handler: func(ctx context.Context, conn *websocket.Channel, req *httpx.Request, _ httpx.Args) error {
				if err := conn.Accept(ctx, ""); err != nil {
					return err
				}

				sid = req.SessionID
				req.Session["user"] = "mallory"
				return errors.New("bad state")
			},
		}

		conn := wiretest.New(transport.Event{Type: transport.EventWSConnect})
		require.NoError(t, d.Dispatch(context.Background(), wsScope("/echo"), conn.Receiver(), conn.Sender()))

		require.False(t, recorder.afterRan, "after hooks must not run on handler error")

		loaded, err := d.Sessions.Load(context.Background(), sid)
		require.NoError(t, err)
		require.Empty(t, loaded, "session must not be saved on handler error")
	})

	t.Run("graceful return closes normally", func(t *testing.T) {
		d := newDispatcher()
		d.WSRoutes["echo"] = WSRoute{
			Name: "echo",
			Handler: func(ctx context.Context, conn *websocket.Channel, _ *httpx.Request, _ httpx.Args) error {
				return conn.Accept(ctx, "")
			},
		}

		conn := wiretest.New(transport.Event{Type: transport.EventWSConnect})
		require.NoError(t, d.Dispatch(context.Background(), wsScope("/echo"), conn.Receiver(), conn.Sender()))

		sent := conn.Sent()
		require.Len(t, sent, 2)
		require.Equal(t, transport.EventWSClose, sent[1].Type)
		require.Equal(t, websocket.CloseNormal, sent[1].Code)
	})
}

type wsGate struct{}

func (wsGate) Before(context.Context, *httpx.Request) *middleware.Close {
	return &middleware.Close{Reason: "not today"}
}

func (wsGate) After(context.Context, *httpx.Request) {}

type wsRecorder struct {
	afterRan bool
}

func (*wsRecorder) Before(context.Context, *httpx.Request) *middleware.Close { return nil }

func (r *wsRecorder) After(context.Context, *httpx.Request) {
	r.afterRan = true
}

func TestLifespan(t *testing.T) {
	lifespanScope := transport.Scope{Kind: transport.KindLifespan}

	t.Run("startup and shutdown complete", func(t *testing.T) {
		d := newDispatcher()
		var startups, shutdowns int
		d.OnStartup = []func(context.Context) error{func(context.Context) error {
			startups++
			return nil
		}}
		d.OnShutdown = []func(context.Context) error{func(context.Context) error {
			shutdowns++
			return nil
		}}

		conn := wiretest.New(
			transport.Event{Type: transport.EventStartup},
			transport.Event{Type: transport.EventStartup},
			transport.Event{Type: transport.EventShutdown},
		)
		require.NoError(t, d.Dispatch(context.Background(), lifespanScope, conn.Receiver(), conn.Sender()))

		require.Equal(t, 1, startups, "startup hooks run once")
		require.Equal(t, 1, shutdowns)

		sent := conn.Sent()
		require.Len(t, sent, 3)
		require.Equal(t, transport.EventStartupComplete, sent[0].Type)
		require.Equal(t, transport.EventStartupComplete, sent[1].Type)
		require.Equal(t, transport.EventShutdownComplete, sent[2].Type)
	})

	t.Run("startup failure is reported", func(t *testing.T) {
		d := newDispatcher()
		d.OnStartup = []func(context.Context) error{func(context.Context) error {
			return errors.New("migrations pending")
		}}

		conn := wiretest.New(transport.Event{Type: transport.EventStartup})
		require.NoError(t, d.Dispatch(context.Background(), lifespanScope, conn.Receiver(), conn.Sender()))

		sent := conn.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, transport.EventStartupFailed, sent[0].Type)
		require.Equal(t, "migrations pending", sent[0].Text)
	})
}
