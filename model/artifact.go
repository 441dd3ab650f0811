package model

import (
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"strings"
	"time"
)

type Artifact struct {
	ID        ArtifactID
	FlowID    FlowID
	MessageID MessageID
	MimeType  string
	FileName  string
	Timestamp time.Time
	Hash      string
	Size      int64
}

func NewArtifact(message *Message, mimeType string, fileName string, content []byte) *Artifact {
	artifact := &Artifact{
		ID:        NewArtifactID(),
		MimeType:  mimeType,
		FileName:  fileName,
		Timestamp: time.Now(),
		Hash:      HashContent(content),
		Size:      int64(len(content)),
	}
	if message != nil {
		artifact.FlowID = message.FlowID
		artifact.MessageID = message.ID
	}
	return artifact
}

func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return mediaType
}
