package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/model"
)

var ErrHashCollision = errors.New("hash collision: equal hash with different content")

var (
	_ adapter.Sink      = (*MemoryStore)(nil)
	_ adapter.BlobStore = (*MemoryStore)(nil)
)

type MemoryStore struct {
	access     sync.RWMutex
	flows      []*model.Flow
	messages   []*model.Message
	artifacts  []*model.Artifact
	blobs      map[string][]byte
	blobWrites int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

func (s *MemoryStore) InsertFlow(ctx context.Context, flow *model.Flow) error {
	s.access.Lock()
	defer s.access.Unlock()
	s.flows = append(s.flows, flow)
	return nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, message *model.Message) error {
	s.access.Lock()
	defer s.access.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func (s *MemoryStore) InsertArtifact(ctx context.Context, artifact *model.Artifact) error {
	s.access.Lock()
	defer s.access.Unlock()
	s.artifacts = append(s.artifacts, artifact)
	return nil
}

func (s *MemoryStore) PutBlob(ctx context.Context, hash string, content []byte) (bool, error) {
	s.access.Lock()
	defer s.access.Unlock()
	if existing, loaded := s.blobs[hash]; loaded {
		if !bytes.Equal(existing, content) {
			return false, ErrHashCollision
		}
		return false, nil
	}
	s.blobs[hash] = bytes.Clone(content)
	s.blobWrites++
	return true, nil
}

func (s *MemoryStore) HasBlob(ctx context.Context, hash string) (bool, error) {
	s.access.RLock()
	defer s.access.RUnlock()
	_, loaded := s.blobs[hash]
	return loaded, nil
}

func (s *MemoryStore) Flows() []*model.Flow {
	s.access.RLock()
	defer s.access.RUnlock()
	return append([]*model.Flow(nil), s.flows...)
}

func (s *MemoryStore) Flow(id model.FlowID) *model.Flow {
	s.access.RLock()
	defer s.access.RUnlock()
	for _, flow := range s.flows {
		if flow.ID == id {
			return flow
		}
	}
	return nil
}

// Messages returns the messages of a flow, or all messages for the nil id.
func (s *MemoryStore) Messages(flow model.FlowID) []*model.Message {
	s.access.RLock()
	defer s.access.RUnlock()
	var messages []*model.Message
	for _, message := range s.messages {
		if flow.IsNil() || message.FlowID == flow {
			messages = append(messages, message)
		}
	}
	return messages
}

func (s *MemoryStore) Artifacts() []*model.Artifact {
	s.access.RLock()
	defer s.access.RUnlock()
	return append([]*model.Artifact(nil), s.artifacts...)
}

func (s *MemoryStore) Blob(hash string) ([]byte, bool) {
	s.access.RLock()
	defer s.access.RUnlock()
	content, loaded := s.blobs[hash]
	return content, loaded
}

func (s *MemoryStore) BlobWrites() int {
	s.access.RLock()
	defer s.access.RUnlock()
	return s.blobWrites
}
