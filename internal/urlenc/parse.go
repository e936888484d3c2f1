package urlenc

import (
	"bytes"

	"github.com/flrdv/uf"
	"github.com/velo-web/velo/status"
)

// ParseInto decodes a query string or an urlencoded form body, reporting each
// key-value pair through cb in wire order. Keys without a value ("a&b=1") are
// reported with an empty value. buff is an append-buffer carried between calls to
// amortize decode allocations; the grown buffer is returned.
func ParseInto(data, buff []byte, cb func(k, v string)) (buffer []byte, err error) {
	for len(data) > 0 {
		var pair []byte

		if amp := bytes.IndexByte(data, '&'); amp != -1 {
			pair, data = data[:amp], data[amp+1:]
		} else {
			pair, data = data, nil
		}

		if len(pair) == 0 {
			continue
		}

		var rawKey, rawValue []byte

		if eq := bytes.IndexByte(pair, '='); eq != -1 {
			rawKey, rawValue = pair[:eq], pair[eq+1:]
		} else {
			rawKey = pair
		}

		if len(rawKey) == 0 || hasIllegalByte(rawKey) || hasIllegalByte(rawValue) {
			return buff, status.ErrBadQuery
		}

		var key, value []byte

		key, buff, err = DecodeForm(rawKey, buff)
		if err != nil {
			return buff, err
		}

		value, buff, err = DecodeForm(rawValue, buff)
		if err != nil {
			return buff, err
		}

		cb(uf.B2S(key), uf.B2S(value))
	}

	return buff, nil
}

// hasIllegalByte excludes non-printable characters and whitespace.
func hasIllegalByte(data []byte) bool {
	for _, c := range data {
		if c <= ' ' || c == 0x7f {
			return true
		}
	}

	return false
}
