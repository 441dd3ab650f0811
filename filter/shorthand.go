package filter

import (
	C "github.com/twnesss/skunk/constant"
)

type shorthand struct {
	field    string
	op       Op
	value    string
	argument bool
}

const assetMimeTypes = `^(?:text/css|(?:application|text)/(?:x-)?javascript|image/.+|font/.+|application/font-.+)$`

// mitmproxy compatible filters, rewritten into field comparisons.
var shorthands = map[string]shorthand{
	"all":       {},
	"http":      {field: "protocol", op: OpEqual, value: C.ProtocolHTTP},
	"tcp":       {field: "protocol", op: OpEqual, value: C.ProtocolTCP},
	"tls":       {field: "protocol", op: OpEqual, value: C.ProtocolTLS},
	"websocket": {field: "protocol", op: OpEqual, value: C.ProtocolWebSocket},
	"q":         {field: "message_kind", op: OpEqual, value: "request"},
	"s":         {field: "message_kind", op: OpEqual, value: "response"},
	"e":         {field: "message_kind", op: OpEqual, value: "error"},
	"a":         {field: "response.mime_type", op: OpMatches, value: assetMimeTypes},
	"d":         {field: "destination_address", op: OpMatches, argument: true},
	"dst":       {field: "destination", op: OpMatches, argument: true},
	"src":       {field: "source", op: OpMatches, argument: true},
	"sni":       {field: "server_name", op: OpMatches, argument: true},
	"u":         {field: "url", op: OpMatches, argument: true},
	"m":         {field: "method", op: OpMatches, argument: true},
	"c":         {field: "response.status_code", op: OpEqual, argument: true},
	"t":         {field: "mime_type", op: OpMatches, argument: true},
	"tq":        {field: "request.mime_type", op: OpMatches, argument: true},
	"ts":        {field: "response.mime_type", op: OpMatches, argument: true},
	"h":         {field: "header", op: OpMatches, argument: true},
	"hq":        {field: "request.header", op: OpMatches, argument: true},
	"hs":        {field: "response.header", op: OpMatches, argument: true},
	"b":         {field: "content", op: OpMatches, argument: true},
	"bq":        {field: "request.content", op: OpMatches, argument: true},
	"bs":        {field: "response.content", op: OpMatches, argument: true},
	"meta":      {field: "metadata", op: OpMatches, argument: true},
	"ja3":       {field: "ja3", op: OpEqual, argument: true},
}

func (p *parser) parseShorthand(t token) (Expr, error) {
	definition, loaded := shorthands[t.text]
	if !loaded {
		return nil, &SyntaxError{Position: t.position, Expected: "known \"~\" filter", Found: "\"~" + t.text + "\""}
	}
	if definition.field == "" {
		return &Const{Value: true}, nil
	}
	field, _ := lookupField(definition.field)
	valueToken := token{kind: tokenString, text: definition.value, position: t.position}
	if definition.argument {
		valueToken = p.next()
		if valueToken.kind != tokenString && valueToken.kind != tokenWord {
			return nil, &SyntaxError{Position: valueToken.position, Expected: "argument for \"~" + t.text + "\"", Found: valueToken.describe()}
		}
	}
	return newPredicate(field, definition.op, valueToken)
}
