package fetch

import (
	"fmt"
	"log/slog"
	"strings"
)

// Scheme identifies the protocol used to retrieve a URL.
type Scheme int

const (
	SchemeHTTP Scheme = iota
	SchemeHTTPS
	SchemeFTP
	SchemeFile
)

// schemeTable maps each scheme to its URL prefix and well-known port.
// The prefix includes the colon so that "http:" never matches "https:".
var schemeTable = [...]struct {
	prefix string
	port   string
}{
	SchemeHTTP:  {"http:", "80"},
	SchemeHTTPS: {"https:", "443"},
	SchemeFTP:   {"ftp:", "21"},
	SchemeFile:  {"file:", ""},
}

// String returns the scheme name without the trailing colon.
func (s Scheme) String() string {
	if !s.valid() {
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
	return strings.TrimSuffix(schemeTable[s].prefix, ":")
}

// DefaultPort returns the well-known port of the scheme.
// It is empty for SchemeFile, which never has a port.
func (s Scheme) DefaultPort() string {
	if !s.valid() {
		return ""
	}
	return schemeTable[s].port
}

func (s Scheme) valid() bool {
	return s >= SchemeHTTP && int(s) < len(schemeTable)
}

// URL is a parsed retrieval target together with the transfer state that
// follows it through a session.
type URL struct {
	Scheme Scheme

	// Host is empty when the authority component is empty
	// (e.g. "file:///etc/motd"). IPv6 literals are stored without brackets.
	Host string

	// Port is empty only for SchemeFile.
	Port string

	// Path is kept verbatim (not decoded), including the leading slash.
	// Empty means the URL had no path.
	Path string

	// LocalName is the destination name; "-" means standard output.
	LocalName string

	// Size is the remote size when known, zero otherwise.
	Size int64

	// Offset is the number of bytes already present at the destination.
	// It grows as bytes are copied.
	Offset int64
}

// Parse parses a URL of the form
//
//	scheme "://" [ userinfo "@" ] ( "[" ipv6 "]" | host ) [ ":" port ] [ "/" path ]
//
// Userinfo is recognized and discarded; it is never used for authentication.
// Deprecation notices go to slog.Default().
func Parse(raw string) (*URL, error) {
	return parse(raw, slog.Default())
}

func parse(raw string, logger *slog.Logger) (*URL, error) {
	p := strings.TrimLeft(raw, " \t")

	colon := strings.IndexByte(p, ':')
	if colon == -1 {
		return nil, &ParseError{URL: raw, Reason: "scheme missing"}
	}

	scheme, ok := lookupScheme(p)
	if !ok {
		return nil, &ParseError{URL: raw, Reason: "invalid scheme"}
	}

	u := &URL{Scheme: scheme}
	rest := p[colon+1:]

	if !strings.HasPrefix(rest, "//") {
		// No authority: everything after the colon is the path.
		u.Path = rest
		u.Port = scheme.DefaultPort()
		return u, nil
	}
	rest = rest[2:]

	authority := rest
	if slash := strings.IndexByte(rest, '/'); slash != -1 {
		authority = rest[:slash]
		u.Path = rest[slash:]
	}

	if at := strings.LastIndexByte(authority, '@'); at != -1 {
		logger.Warn("ignoring deprecated userinfo", "url", raw)
		authority = authority[at+1:]
	}

	host, port, err := parseAuthority(authority)
	if err != nil {
		return nil, &ParseError{URL: raw, Reason: err.Error()}
	}
	u.Host = host
	u.Port = port
	if u.Port == "" {
		u.Port = scheme.DefaultPort()
	}

	logger.Debug("parsed url", "scheme", u.Scheme, "host", u.Host, "port", u.Port, "path", u.Path)
	return u, nil
}

// lookupScheme matches the start of s against the known scheme prefixes,
// ignoring case.
func lookupScheme(s string) (Scheme, bool) {
	for i, e := range schemeTable {
		if len(s) >= len(e.prefix) && strings.EqualFold(s[:len(e.prefix)], e.prefix) {
			return Scheme(i), true
		}
	}
	return 0, false
}

// parseAuthority splits "host[:port]" or "[v6][:port]". Empty components
// are returned as empty strings.
func parseAuthority(a string) (host, port string, err error) {
	if strings.HasPrefix(a, "[") {
		end := strings.IndexByte(a, ']')
		if end == -1 {
			return "", "", fmt.Errorf("invalid IPv6 address: %s", a)
		}
		host = a[1:end]
		rest := a[end+1:]
		if rest == "" {
			return host, "", nil
		}
		if rest[0] != ':' {
			return "", "", fmt.Errorf("invalid port: %s", rest)
		}
		return host, rest[1:], nil
	}

	if i := strings.IndexByte(a, ':'); i != -1 {
		return a[:i], a[i+1:], nil
	}
	return a, "", nil
}

// String reconstructs the URL as scheme://host[:port]/path. The port is
// omitted when it is the scheme's default and hosts containing a colon are
// bracketed.
func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(schemeTable[u.Scheme].prefix)
	b.WriteString("//")

	if strings.IndexByte(u.Host, ':') != -1 {
		b.WriteByte('[')
		b.WriteString(u.Host)
		b.WriteByte(']')
	} else {
		b.WriteString(u.Host)
	}

	if u.Port != u.Scheme.DefaultPort() {
		b.WriteByte(':')
		b.WriteString(u.Port)
	}

	if u.Path == "" {
		b.WriteByte('/')
	} else {
		b.WriteString(u.Path)
	}
	return b.String()
}

// Clone returns a copy of u.
func (u *URL) Clone() *URL {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
