package adapter

import (
	"context"

	"github.com/twnesss/skunk/model"
)

type Sink interface {
	InsertFlow(ctx context.Context, flow *model.Flow) error
	InsertMessage(ctx context.Context, message *model.Message) error
	InsertArtifact(ctx context.Context, artifact *model.Artifact) error
}

// BlobStore keeps artifact content by hex SHA-256. PutBlob reports whether the
// content was newly stored.
type BlobStore interface {
	PutBlob(ctx context.Context, hash string, content []byte) (stored bool, err error)
	HasBlob(ctx context.Context, hash string) (bool, error)
}

// Emitter validates capture records before they reach a Sink.
type Emitter interface {
	EmitFlow(ctx context.Context, flow *model.Flow) error
	EmitMessage(ctx context.Context, message *model.Message) error
	EmitArtifact(ctx context.Context, artifact *model.Artifact, content []byte) error
	// Release forgets flows whose session has ended.
	Release(flows ...model.FlowID)
}
