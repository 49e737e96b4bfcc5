package probe

import (
	"fmt"
	"strings"

	"github.com/mrk-andreev/chprobe/internal/ir"
)

// Channel identifies one delivery path for a probe.
type Channel int

const (
	SettingsPacket Channel = iota
	Params
	SessionSet
	InlineClause
)

// Channels lists every channel in verification order.
var Channels = []Channel{SettingsPacket, Params, SessionSet, InlineClause}

func (c Channel) String() string {
	switch c {
	case SettingsPacket:
		return "settings_packet"
	case Params:
		return "http_params"
	case SessionSet:
		return "session_set"
	case InlineClause:
		return "inline_clause"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ParseChannel is the inverse of Channel.String.
func ParseChannel(s string) (Channel, error) {
	for _, c := range Channels {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// Protocol is the network protocol a request travels over.
type Protocol int

const (
	Native Protocol = iota
	HTTP
)

func (p Protocol) String() string {
	if p == HTTP {
		return "http"
	}
	return "native"
}

// Request is the wire form of a probe for one channel.
type Request struct {
	Channel  Channel
	Protocol Protocol

	// Statements are sent in order within a single session. Only the result
	// of the last statement is returned.
	Statements []string

	// Settings travel out of band: as a settings packet on the native
	// protocol or as request parameters on HTTP.
	Settings ir.Settings

	// User is the identity to authenticate as. Empty means the executor's
	// default identity.
	User string

	// Inline is the query rendered with a trailing SETTINGS clause.
	// Only set for InlineClause.
	Inline string
}

// Text renders the statements the way they would be typed into a client:
// every statement but the last is terminated by ";\n".
func (r Request) Text() string {
	if len(r.Statements) == 0 {
		return ""
	}
	var b strings.Builder
	for _, st := range r.Statements[:len(r.Statements)-1] {
		b.WriteString(st)
		b.WriteString(";\n")
	}
	b.WriteString(r.Statements[len(r.Statements)-1])
	return b.String()
}

// Encoder turns a query and its settings into the wire form of one channel.
type Encoder interface {
	Channel() Channel
	Encode(query string, settings ir.Settings) Request
}

// SettingsPacketEncoder attaches settings as native protocol settings.
type SettingsPacketEncoder struct{}

func (SettingsPacketEncoder) Channel() Channel { return SettingsPacket }

func (SettingsPacketEncoder) Encode(query string, settings ir.Settings) Request {
	return Request{
		Channel:    SettingsPacket,
		Protocol:   Native,
		Statements: []string{query},
		Settings:   settings,
	}
}

// ParamsEncoder attaches settings as HTTP request parameters.
type ParamsEncoder struct{}

func (ParamsEncoder) Channel() Channel { return Params }

func (ParamsEncoder) Encode(query string, settings ir.Settings) Request {
	return Request{
		Channel:    Params,
		Protocol:   HTTP,
		Statements: []string{query},
		Settings:   settings,
	}
}

// SessionSetEncoder prefixes the query with one SET statement per setting.
type SessionSetEncoder struct{}

func (SessionSetEncoder) Channel() Channel { return SessionSet }

func (SessionSetEncoder) Encode(query string, settings ir.Settings) Request {
	return Request{
		Channel:    SessionSet,
		Protocol:   Native,
		Statements: sessionStatements(query, settings),
	}
}

// InlineClauseEncoder renders a trailing SETTINGS clause. Unless Strict is
// set the request carries the session SET statements of SessionSetEncoder;
// the inline form is only recorded in Request.Inline.
type InlineClauseEncoder struct {
	Strict bool
}

func (InlineClauseEncoder) Channel() Channel { return InlineClause }

func (e InlineClauseEncoder) Encode(query string, settings ir.Settings) Request {
	inline := InlineQuery(query, settings)
	req := Request{
		Channel:  InlineClause,
		Protocol: Native,
		Inline:   inline,
	}
	if e.Strict {
		req.Statements = []string{inline}
	} else {
		req.Statements = sessionStatements(query, settings)
	}
	return req
}

// EncoderFor returns the encoder of a channel.
func EncoderFor(c Channel, strictInline bool) Encoder {
	switch c {
	case SettingsPacket:
		return SettingsPacketEncoder{}
	case Params:
		return ParamsEncoder{}
	case SessionSet:
		return SessionSetEncoder{}
	default:
		return InlineClauseEncoder{Strict: strictInline}
	}
}

func sessionStatements(query string, settings ir.Settings) []string {
	stmts := make([]string, 0, len(settings)+1)
	for _, s := range settings {
		stmts = append(stmts, "SET "+s.Name+"="+s.Value.Literal())
	}
	return append(stmts, query)
}

// InlineQuery appends "SETTINGS n1 = v1, n2 = v2" to query.
// With no settings the query is returned unchanged.
func InlineQuery(query string, settings ir.Settings) string {
	if len(settings) == 0 {
		return query
	}
	var b strings.Builder
	b.WriteString(query)
	b.WriteString(" SETTINGS ")
	for i, s := range settings {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(s.Name)
		b.WriteString(" = ")
		b.WriteString(s.Value.Literal())
	}
	return b.String()
}
