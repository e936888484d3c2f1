package urlenc

import (
	"bytes"

	"github.com/flrdv/uf"
	"github.com/velo-web/velo/status"
)

// halfbyte maps a hex digit to its value, anything else to 0xff.
var halfbyte = func() (table [256]byte) {
	for i := range table {
		table[i] = 0xff
	}

	for c := byte('0'); c <= '9'; c++ {
		table[c] = c - '0'
	}

	for c := byte('a'); c <= 'f'; c++ {
		table[c] = c - 'a' + 10
		table[c-0x20] = c - 'a' + 10
	}

	return table
}()

// Decode resolves percent-escapes in src, appending into dst. If src contains no
// escapes it is returned as-is without touching dst.
func Decode(src, dst []byte) (decoded, buffer []byte, err error) {
	percent := bytes.IndexByte(src, '%')
	if percent == -1 {
		return src, dst, nil
	}

	head := len(dst)

	for percent != -1 {
		if percent > len(src)-3 {
			return nil, dst, status.ErrURLDecoding
		}

		a, b := halfbyte[src[percent+1]], halfbyte[src[percent+2]]
		if a|b > 0x0f {
			return nil, dst, status.ErrURLDecoding
		}

		dst = append(dst, src[:percent]...)
		dst = append(dst, (a<<4)|b)
		src = src[percent+3:]
		percent = bytes.IndexByte(src, '%')
	}

	dst = append(dst, src...)
	return dst[head:], dst, nil
}

// DecodeForm is Decode, on top also resolving '+' as a space.
func DecodeForm(src, dst []byte) (decoded, buffer []byte, err error) {
	plus := bytes.IndexByte(src, '+')
	if plus == -1 {
		return Decode(src, dst)
	}

	head := len(dst)

	for plus != -1 {
		dst = append(dst, src[:plus]...)
		dst = append(dst, ' ')
		src = src[plus+1:]
		plus = bytes.IndexByte(src, '+')
	}

	dst = append(dst, src...)

	decoded, buffer, err = Decode(dst[head:], dst[:head])
	if err != nil {
		return nil, dst, err
	}

	if len(buffer) == head {
		// No escapes were left: the substituted region itself is the result,
		// and must stay inside the returned buffer's length.
		return dst[head:], dst, nil
	}

	return decoded, buffer, nil
}

// DecodeFormString is DecodeForm over strings, re-using buff for the result.
func DecodeFormString(src string, buff []byte) (decoded string, buffer []byte, err error) {
	d, buffer, err := DecodeForm(uf.S2B(src), buff)
	return uf.B2S(d), buffer, err
}
