package filter

import (
	"strings"
)

type Scope uint8

const (
	ScopeAny Scope = iota
	ScopeRequest
	ScopeResponse
)

type valueType uint8

const (
	typeString valueType = iota
	typeInteger
)

type fieldInfo struct {
	valueType valueType
	message   bool
	list      bool
	keyed     bool
}

var fields = map[string]fieldInfo{
	"destination_address": {},
	"destination_port":    {valueType: typeInteger},
	"destination":         {},
	"protocol":            {},
	"server_name":         {},
	"alpn":                {list: true},
	"ja3":                 {},
	"source":              {},
	"metadata":            {keyed: true},
	"message_kind":        {message: true},
	"method":              {message: true},
	"url":                 {message: true},
	"path":                {message: true},
	"status_code":         {message: true, valueType: typeInteger},
	"mime_type":           {message: true},
	"header":              {message: true, list: true},
	"content":             {message: true},
}

var fieldAliases = map[string]string{
	"host":         "destination_address",
	"domain":       "destination_address",
	"port":         "destination_port",
	"sni":          "server_name",
	"kind":         "message_kind",
	"status":       "status_code",
	"content_type": "mime_type",
	"body":         "content",
}

type Field struct {
	Name  string
	Key   string
	Scope Scope
}

func (f Field) info() fieldInfo {
	return fields[f.Name]
}

func (f Field) String() string {
	var builder strings.Builder
	switch f.Scope {
	case ScopeRequest:
		builder.WriteString("request.")
	case ScopeResponse:
		builder.WriteString("response.")
	}
	builder.WriteString(f.Name)
	if f.Key != "" {
		builder.WriteByte('.')
		builder.WriteString(f.Key)
	}
	return builder.String()
}

func lookupField(name string) (Field, bool) {
	var field Field
	if rest, found := strings.CutPrefix(name, "request."); found {
		field.Scope = ScopeRequest
		name = rest
	} else if rest, found = strings.CutPrefix(name, "response."); found {
		field.Scope = ScopeResponse
		name = rest
	}
	if base, key, found := strings.Cut(name, "."); found {
		if canonical, loaded := fieldAliases[base]; loaded {
			base = canonical
		}
		info, loaded := fields[base]
		if !loaded || !info.keyed || key == "" {
			return Field{}, false
		}
		field.Name = base
		field.Key = key
	} else {
		if canonical, loaded := fieldAliases[name]; loaded {
			name = canonical
		}
		if _, loaded := fields[name]; !loaded {
			return Field{}, false
		}
		field.Name = name
	}
	if field.Scope != ScopeAny && !field.info().message {
		return Field{}, false
	}
	return field, true
}
