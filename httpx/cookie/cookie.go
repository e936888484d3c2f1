package cookie

import (
	"strconv"
	"strings"
)

type SameSite = string

const (
	SameSiteLax    SameSite = "Lax"
	SameSiteStrict SameSite = "Strict"
	SameSiteNone   SameSite = "None"
)

// Cookie is an outbound Set-Cookie description.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	Domain   string
	MaxAge   int
	SameSite SameSite
	Secure   bool
	HttpOnly bool
}

// Session returns the canonical session-id cookie:
// <name>=<id>; Path=/; SameSite=Lax; HttpOnly; Secure
func Session(name, id string) Cookie {
	return Cookie{
		Name:     name,
		Value:    id,
		Path:     "/",
		SameSite: SameSiteLax,
		HttpOnly: true,
		Secure:   true,
	}
}

// Render serializes the cookie into a Set-Cookie header value.
func (c Cookie) Render() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)

	if len(c.Path) > 0 {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}

	if len(c.Domain) > 0 {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}

	if c.MaxAge != 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(c.MaxAge))
	}

	if len(c.SameSite) > 0 {
		b.WriteString("; SameSite=")
		b.WriteString(c.SameSite)
	}

	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}

	if c.Secure {
		b.WriteString("; Secure")
	}

	return b.String()
}
