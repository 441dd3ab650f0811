package filter

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/twnesss/skunk/model"
)

// Verdict is the result of evaluating an expression against a flow whose
// attributes may still be incomplete.
type Verdict uint8

const (
	Unknown Verdict = iota
	False
	True
)

func (v Verdict) String() string {
	switch v {
	case False:
		return "false"
	case True:
		return "true"
	default:
		return "unknown"
	}
}

func verdictOf(value bool) Verdict {
	if value {
		return True
	}
	return False
}

type attribute struct {
	text    string
	integer int64
	numeric bool
}

func textAttribute(text string) []attribute {
	return []attribute{{text: text}}
}

func integerAttribute(value int64) []attribute {
	return []attribute{{text: strconv.FormatInt(value, 10), integer: value, numeric: true}}
}

func (c *Const) Match(flow *model.Flow, messages []*model.Message) bool {
	return c.Value
}

func (c *Const) Decide(flow *model.Flow, messages []*model.Message) Verdict {
	return verdictOf(c.Value)
}

func (n *Not) Match(flow *model.Flow, messages []*model.Message) bool {
	return !n.X.Match(flow, messages)
}

func (n *Not) Decide(flow *model.Flow, messages []*model.Message) Verdict {
	switch n.X.Decide(flow, messages) {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

func (a *And) Match(flow *model.Flow, messages []*model.Message) bool {
	for _, term := range a.Terms {
		if !term.Match(flow, messages) {
			return false
		}
	}
	return true
}

func (a *And) Decide(flow *model.Flow, messages []*model.Message) Verdict {
	result := True
	for _, term := range a.Terms {
		switch term.Decide(flow, messages) {
		case False:
			return False
		case Unknown:
			result = Unknown
		}
	}
	return result
}

func (o *Or) Match(flow *model.Flow, messages []*model.Message) bool {
	for _, term := range o.Terms {
		if term.Match(flow, messages) {
			return true
		}
	}
	return false
}

func (o *Or) Decide(flow *model.Flow, messages []*model.Message) Verdict {
	result := False
	for _, term := range o.Terms {
		switch term.Decide(flow, messages) {
		case True:
			return True
		case Unknown:
			result = Unknown
		}
	}
	return result
}

func (p *Predicate) Match(flow *model.Flow, messages []*model.Message) bool {
	return p.Decide(flow, messages) == True
}

// Decide treats an absent flow attribute as not yet known. Message predicates
// never become false while the flow is alive, since a later message may
// still satisfy them.
func (p *Predicate) Decide(flow *model.Flow, messages []*model.Message) Verdict {
	if !p.Field.info().message {
		if flow == nil {
			return Unknown
		}
		attributes, loaded := p.flowAttributes(flow)
		if !loaded {
			return Unknown
		}
		return verdictOf(p.test(attributes))
	}
	for _, message := range messages {
		if message == nil || !p.inScope(message) {
			continue
		}
		attributes, loaded := p.messageAttributes(message)
		if loaded && p.test(attributes) {
			return True
		}
	}
	return Unknown
}

func (p *Predicate) inScope(message *model.Message) bool {
	switch p.Field.Scope {
	case ScopeRequest:
		return message.Kind == model.KindRequest
	case ScopeResponse:
		return message.Kind == model.KindResponse
	default:
		return true
	}
}

func (p *Predicate) flowAttributes(flow *model.Flow) ([]attribute, bool) {
	switch p.Field.Name {
	case "destination_port":
		if flow.Destination.Port == 0 {
			return nil, false
		}
		return integerAttribute(int64(flow.Destination.Port)), true
	case "alpn":
		value, loaded := flow.Metadata.GetString("alpn")
		if !loaded {
			return nil, false
		}
		var attributes []attribute
		for _, protocol := range strings.Split(value, ",") {
			attributes = append(attributes, attribute{text: protocol})
		}
		return attributes, true
	case "metadata":
		if p.Field.Key == "" {
			if flow.Metadata.Len() == 0 {
				return nil, false
			}
			return textAttribute(flow.Metadata.String()), true
		}
		value, loaded := flow.Metadata.GetString(p.Field.Key)
		if !loaded {
			return nil, false
		}
		return textAttribute(value), true
	default:
		value, loaded := flow.Attribute(p.Field.Name)
		if !loaded {
			return nil, false
		}
		return textAttribute(value), true
	}
}

func (p *Predicate) messageAttributes(message *model.Message) ([]attribute, bool) {
	switch p.Field.Name {
	case "message_kind":
		return textAttribute(string(message.Kind)), true
	case "method", "url", "path":
		request, isRequest := message.Data.(*model.HTTPRequest)
		if !isRequest || request == nil {
			return nil, false
		}
		switch p.Field.Name {
		case "method":
			return textAttribute(request.Method), true
		case "url":
			return textAttribute(request.URL), true
		default:
			requestURL, err := url.Parse(request.URL)
			if err != nil {
				return nil, false
			}
			return textAttribute(requestURL.Path), true
		}
	case "status_code":
		response, isResponse := message.Data.(*model.HTTPResponse)
		if !isResponse || response == nil {
			return nil, false
		}
		return integerAttribute(int64(response.StatusCode)), true
	case "mime_type":
		mimeType := message.MimeType()
		if mimeType == "" {
			return nil, false
		}
		return textAttribute(mimeType), true
	case "header":
		header := message.Header()
		if header == nil {
			return nil, false
		}
		keys := make([]string, 0, len(header))
		for key := range header {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var attributes []attribute
		for _, key := range keys {
			for _, value := range header[key] {
				attributes = append(attributes, attribute{text: key + ": " + value})
			}
		}
		return attributes, true
	case "content":
		if message.Body == nil {
			return nil, false
		}
		return textAttribute(string(message.Body)), true
	}
	return nil, false
}

func (p *Predicate) test(attributes []attribute) bool {
	if p.Op == OpNotEqual {
		for _, attribute := range attributes {
			if p.equalTo(attribute) {
				return false
			}
		}
		return true
	}
	for _, attribute := range attributes {
		if p.testOne(attribute) {
			return true
		}
	}
	return false
}

func (p *Predicate) equalTo(attribute attribute) bool {
	if p.Value.Numeric {
		return attribute.numeric && attribute.integer == p.Value.Integer
	}
	return attribute.text == p.Value.Text
}

func (p *Predicate) testOne(attribute attribute) bool {
	switch p.Op {
	case OpEqual:
		return p.equalTo(attribute)
	case OpContains:
		return strings.Contains(attribute.text, p.Value.Text)
	case OpMatches:
		matched, err := p.regex.MatchString(attribute.text)
		return err == nil && matched
	case OpLess:
		return attribute.numeric && attribute.integer < p.Value.Integer
	case OpLessEqual:
		return attribute.numeric && attribute.integer <= p.Value.Integer
	case OpGreater:
		return attribute.numeric && attribute.integer > p.Value.Integer
	case OpGreaterEqual:
		return attribute.numeric && attribute.integer >= p.Value.Integer
	}
	return false
}
