package model

import (
	"github.com/gofrs/uuid/v5"
)

// IDs are time ordered (UUIDv7) so that records sort by creation when
// compared lexically.

type FlowID uuid.UUID

type MessageID uuid.UUID

type ArtifactID uuid.UUID

func NewFlowID() FlowID {
	return FlowID(uuid.Must(uuid.NewV7()))
}

func NewMessageID() MessageID {
	return MessageID(uuid.Must(uuid.NewV7()))
}

func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.Must(uuid.NewV7()))
}

func (id FlowID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id FlowID) String() string {
	return uuid.UUID(id).String()
}

func (id FlowID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *FlowID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

func (id MessageID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

func (id MessageID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *MessageID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

func (id ArtifactID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id ArtifactID) String() string {
	return uuid.UUID(id).String()
}

func (id ArtifactID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *ArtifactID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}
