package handshake

import "strings"

// PerMessageDeflate is the only extension family this server negotiates.
const PerMessageDeflate = "permessage-deflate"

// Extension is one offered or accepted extension token with its parameters.
// Parameters keep their offer order; a parameter without a value has an
// empty string value.
type Extension struct {
	Name   string
	Params [][2]string
}

// String renders the extension in Sec-WebSocket-Extensions wire form.
func (e Extension) String() string {
	var sb strings.Builder
	sb.WriteString(e.Name)
	for _, p := range e.Params {
		sb.WriteString("; ")
		sb.WriteString(p[0])
		if p[1] != "" {
			sb.WriteString("=")
			sb.WriteString(p[1])
		}
	}
	return sb.String()
}

// ParseExtensions parses Sec-WebSocket-Extensions header values into the
// offered extension list. Offers are comma-separated; parameters within an
// offer are semicolon-separated.
func ParseExtensions(values []string) []Extension {
	var exts []Extension
	for _, v := range values {
		for _, offer := range strings.Split(v, ",") {
			parts := strings.Split(offer, ";")
			name := strings.TrimSpace(parts[0])
			if name == "" {
				continue
			}
			ext := Extension{Name: strings.ToLower(name)}
			for _, part := range parts[1:] {
				param := strings.TrimSpace(part)
				if param == "" {
					continue
				}
				key, value, _ := strings.Cut(param, "=")
				ext.Params = append(ext.Params, [2]string{
					strings.ToLower(strings.TrimSpace(key)),
					strings.Trim(strings.TrimSpace(value), `"`),
				})
			}
			exts = append(exts, ext)
		}
	}
	return exts
}

// Negotiate selects the accepted subset of the peer's offered extensions.
// The decision is made once per connection and is immutable afterwards.
//
// With the deflate toggle off the accepted set is always empty regardless of
// the offer. With it on, a permessage-deflate offer is accepted with both
// context-takeover parameters disabled, matching what the frame codec
// actually implements on the wire.
func Negotiate(offered []Extension, deflateEnabled bool) []Extension {
	if !deflateEnabled {
		return nil
	}
	for _, ext := range offered {
		if ext.Name == PerMessageDeflate {
			return []Extension{{
				Name: PerMessageDeflate,
				Params: [][2]string{
					{"server_no_context_takeover", ""},
					{"client_no_context_takeover", ""},
				},
			}}
		}
	}
	return nil
}
