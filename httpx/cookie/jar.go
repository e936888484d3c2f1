package cookie

import (
	"errors"
	"strings"

	"github.com/velo-web/velo/kv"
)

var ErrBadCookie = errors.New("cookie has a malformed syntax")

// Parse parses a Cookie header received from a user-agent into the jar. These
// are plain key-value pairs; the function isn't applicable to Set-Cookie
// values.
func Parse(jar *kv.Storage, data string) error {
	for len(data) > 0 {
		eq := strings.IndexByte(data, '=')
		if eq == -1 {
			break
		}

		key := data[:eq]
		data = data[eq+1:]

		if len(key) == 0 {
			return ErrBadCookie
		}

		var value string

		if cs := strings.IndexByte(data, ';'); cs != -1 {
			value, data = data[:cs], stripSpace(data[cs+1:])
		} else {
			value, data = data, ""
		}

		jar.Add(key, value)
	}

	if len(data) != 0 {
		return ErrBadCookie
	}

	return nil
}

func stripSpace(str string) string {
	for len(str) > 0 && str[0] == ' ' {
		str = str[1:]
	}

	return str
}
