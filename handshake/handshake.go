package handshake

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"
)

const (
	// websocketGUID is the fixed GUID from RFC 6455 section 1.3, appended to
	// the client key before hashing to produce the accept digest.
	websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	// RequiredVersion is the only wire protocol version this package accepts.
	RequiredVersion = "13"
)

// Header names involved in the upgrade negotiation.
const (
	HeaderConnection      = "Connection"
	HeaderUpgrade         = "Upgrade"
	HeaderSecWebSocketKey = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer = "Sec-WebSocket-Version"
	HeaderSecWebSocketPro = "Sec-WebSocket-Protocol"
	HeaderSecWebSocketExt = "Sec-WebSocket-Extensions"
)

// Rejection describes a refused upgrade request. It is reported to the peer
// as a plain HTTP status and reason; the connection is never upgraded.
//
// Validation is deterministic: the same request always produces the same
// Rejection.
type Rejection struct {
	Status int
	Reason string
}

// Error implements the error interface so a Rejection can flow through
// ordinary error returns.
func (r *Rejection) Error() string {
	return r.Reason
}

// Scope carries the immutable request metadata a connection is built from.
// It is constructed once during validation and never mutated afterwards.
//
// Header names are lowercased and sorted; multiple values for one name keep
// their original order. The Host header is always the first pair.
type Scope struct {
	// Method is the HTTP method of the upgrade request (always GET today).
	Method string

	// Path is the decoded request path, e.g. "/one/two" for "/one%2Ftwo".
	Path string

	// RawPath is the path exactly as sent on the wire, percent-encoding
	// preserved. An encoded slash is never collapsed into Path's separator,
	// so Path and RawPath differ whenever the request used percent-encoding.
	RawPath string

	// QueryString is the raw query portion of the request target.
	QueryString string

	// Headers is the ordered sequence of (name, value) byte pairs.
	Headers [][2][]byte

	// Client is the remote network address of the peer.
	Client string

	// Subprotocols lists the subprotocol tokens offered by the peer.
	Subprotocols []string

	// Extensions lists the extensions offered by the peer, with parameters.
	Extensions []Extension

	// Version is the negotiated wire protocol version.
	Version string

	// State is the process-wide state map, shared by reference across every
	// connection. The server performs no locking on it; cross-connection
	// mutation discipline is the application's concern.
	State map[string]any
}

// Result is a successfully validated handshake.
type Result struct {
	Scope     *Scope
	AcceptKey string
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept digest for a client key
// per RFC 6455 section 1.3.
func ComputeAcceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Validate inspects an upgrade request and either returns the validated
// handshake context or a Rejection with an HTTP status and reason. The state
// map is attached to the Scope by reference, never copied.
func Validate(r *http.Request, state map[string]any) (*Result, *Rejection) {
	if !headerContainsToken(r.Header, HeaderConnection, "upgrade") ||
		!headerContainsToken(r.Header, HeaderUpgrade, "websocket") {
		return nil, &Rejection{Status: http.StatusBadRequest, Reason: "invalid upgrade headers"}
	}
	if _, ok := r.Header[http.CanonicalHeaderKey(HeaderSecWebSocketVer)]; !ok {
		return nil, &Rejection{Status: http.StatusBadRequest, Reason: "missing sec-websocket-version header"}
	}
	if v := r.Header.Get(HeaderSecWebSocketVer); v != RequiredVersion {
		return nil, &Rejection{Status: http.StatusBadRequest, Reason: "unsupported sec-websocket-version"}
	}
	key := r.Header.Get(HeaderSecWebSocketKey)
	if key == "" {
		return nil, &Rejection{Status: http.StatusBadRequest, Reason: "missing sec-websocket-key header"}
	}

	scope := &Scope{
		Method:       r.Method,
		Path:         r.URL.Path,
		RawPath:      r.URL.EscapedPath(),
		QueryString:  r.URL.RawQuery,
		Headers:      headerPairs(r),
		Client:       r.RemoteAddr,
		Subprotocols: splitTokenList(r.Header.Values(HeaderSecWebSocketPro)),
		Extensions:   ParseExtensions(r.Header.Values(HeaderSecWebSocketExt)),
		Version:      RequiredVersion,
		State:        state,
	}
	return &Result{Scope: scope, AcceptKey: ComputeAcceptKey(key)}, nil
}

// headerPairs flattens the request headers into ordered byte pairs. Names
// are lowercased; names are sorted for deterministic output (the same idiom
// JsonToQueryString uses) while values for one name keep wire order. Host is
// emitted first since net/http strips it out of the header map.
func headerPairs(r *http.Request) [][2][]byte {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][2][]byte, 0, len(r.Header)+1)
	pairs = append(pairs, [2][]byte{[]byte("host"), []byte(r.Host)})
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, value := range r.Header[name] {
			pairs = append(pairs, [2][]byte{[]byte(lower), []byte(value)})
		}
	}
	return pairs
}

// splitTokenList splits comma-separated header values into trimmed tokens.
func splitTokenList(values []string) []string {
	var tokens []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if tok := strings.TrimSpace(part); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

// headerContainsToken reports whether the named header includes the token in
// any of its comma-separated values, case-insensitively.
func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h[http.CanonicalHeaderKey(name)] {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
