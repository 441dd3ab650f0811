package capture

import (
	"context"
	"sync"
	"time"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/model"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"

	"golang.org/x/sync/singleflight"
)

var _ adapter.Emitter = (*Emitter)(nil)

// Emitter is the boundary between the layer stack and persistence. It checks
// record ordering and stores each distinct blob once.
type Emitter struct {
	sink   adapter.Sink
	blobs  adapter.BlobStore
	logger logger.ContextLogger
	access sync.Mutex
	flows  map[model.FlowID]*flowState
	group  singleflight.Group
}

// flowState orders the messages of one flow.
type flowState struct {
	access sync.Mutex
	last   time.Time
}

func NewEmitter(sink adapter.Sink, blobs adapter.BlobStore, logger logger.ContextLogger) *Emitter {
	return &Emitter{
		sink:   sink,
		blobs:  blobs,
		logger: logger,
		flows:  make(map[model.FlowID]*flowState),
	}
}

func (e *Emitter) EmitFlow(ctx context.Context, flow *model.Flow) error {
	e.access.Lock()
	if _, loaded := e.flows[flow.ID]; loaded {
		e.access.Unlock()
		return E.New("flow ", flow.ID, " already emitted")
	}
	if parent, hasParent := flow.Parent(); hasParent {
		if _, loaded := e.flows[parent]; !loaded {
			e.access.Unlock()
			return E.New("flow ", flow.ID, ": parent ", parent, " not emitted")
		}
	}
	e.flows[flow.ID] = &flowState{last: flow.Timestamp}
	e.access.Unlock()
	err := e.sink.InsertFlow(ctx, flow)
	if err != nil {
		e.Release(flow.ID)
		return err
	}
	return nil
}

func (e *Emitter) flow(id model.FlowID) *flowState {
	e.access.Lock()
	defer e.access.Unlock()
	return e.flows[id]
}

// EmitMessage submits a message of an emitted flow. A timestamp earlier than
// the previous message of the same flow is raised to it.
func (e *Emitter) EmitMessage(ctx context.Context, message *model.Message) error {
	state := e.flow(message.FlowID)
	if state == nil {
		return E.New("message ", message.ID, ": flow ", message.FlowID, " not emitted")
	}
	state.access.Lock()
	defer state.access.Unlock()
	if message.Timestamp.Before(state.last) {
		message.Timestamp = state.last
	}
	state.last = message.Timestamp
	return e.sink.InsertMessage(ctx, message)
}

func (e *Emitter) EmitArtifact(ctx context.Context, artifact *model.Artifact, content []byte) error {
	hash := model.HashContent(content)
	if artifact.Hash != "" && artifact.Hash != hash {
		return E.Extend(ErrHashCollision, "artifact ", artifact.ID)
	}
	artifact.Hash = hash
	artifact.Size = int64(len(content))
	if !artifact.FlowID.IsNil() && e.flow(artifact.FlowID) == nil {
		return E.New("artifact ", artifact.ID, ": flow ", artifact.FlowID, " not emitted")
	}
	err := e.putBlob(ctx, hash, content)
	if err != nil {
		return err
	}
	return e.sink.InsertArtifact(ctx, artifact)
}

// putBlob writes content unless the blob store already holds it. Concurrent
// calls for one hash share a single write.
func (e *Emitter) putBlob(ctx context.Context, hash string, content []byte) error {
	_, err, _ := e.group.Do(hash, func() (any, error) {
		exists, err := e.blobs.HasBlob(ctx, hash)
		if err != nil {
			return nil, E.Cause(err, "lookup blob ", hash)
		}
		if exists {
			return nil, nil
		}
		stored, err := e.blobs.PutBlob(ctx, hash, content)
		if err != nil {
			return nil, E.Cause(err, "store blob ", hash)
		}
		if stored {
			e.logger.DebugContext(ctx, "stored blob ", hash, " (", len(content), " bytes)")
		}
		return nil, nil
	})
	return err
}

// Release stops tracking the given flows once their session has ended.
func (e *Emitter) Release(flows ...model.FlowID) {
	e.access.Lock()
	defer e.access.Unlock()
	for _, flow := range flows {
		delete(e.flows, flow)
	}
}
