package model

import (
	"time"

	M "github.com/sagernet/sing/common/metadata"
)

type Flow struct {
	ID          FlowID
	Destination M.Socksaddr
	Source      M.Socksaddr
	Protocol    string
	Timestamp   time.Time
	Metadata    Metadata
	parent      FlowID
}

func NewFlow(destination M.Socksaddr, protocol string) *Flow {
	return &Flow{
		ID:          NewFlowID(),
		Destination: destination,
		Protocol:    protocol,
		Timestamp:   time.Now(),
	}
}

// NewChild creates a flow nested inside f, such as a TLS session carried by
// a TCP connection. Destination and source are inherited.
func (f *Flow) NewChild(protocol string) *Flow {
	return &Flow{
		ID:          NewFlowID(),
		Destination: f.Destination,
		Source:      f.Source,
		Protocol:    protocol,
		Timestamp:   time.Now(),
		parent:      f.ID,
	}
}

func (f *Flow) Parent() (FlowID, bool) {
	return f.parent, !f.parent.IsNil()
}

// Attribute looks a flow level attribute up by name. Metadata is consulted
// last so layers can attach values such as server_name or ja3.
func (f *Flow) Attribute(name string) (string, bool) {
	switch name {
	case "protocol":
		return f.Protocol, f.Protocol != ""
	case "destination":
		if !f.Destination.IsValid() {
			return "", false
		}
		return f.Destination.String(), true
	case "destination_address":
		if !f.Destination.IsValid() {
			return "", false
		}
		return f.Destination.AddrString(), true
	case "source":
		if !f.Source.IsValid() {
			return "", false
		}
		return f.Source.String(), true
	}
	return f.Metadata.GetString(name)
}
