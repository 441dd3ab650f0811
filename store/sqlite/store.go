package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/capture"
	"github.com/twnesss/skunk/model"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"

	_ "modernc.org/sqlite"
)

const FormatVersion = "0.1.0"

var (
	_ adapter.Sink      = (*Store)(nil)
	_ adapter.BlobStore = (*Store)(nil)
)

// Store persists flows, messages, artifacts and blobs to a SQLite file.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, E.Cause(err, "open flow store")
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	err = s.initSchema()
	if err != nil {
		db.Close()
		return nil, E.Cause(err, "initialize flow store")
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY NOT NULL,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS flow (
		flow_id TEXT PRIMARY KEY NOT NULL,
		parent_id TEXT REFERENCES flow(flow_id),
		destination_address TEXT NOT NULL,
		destination_port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		timestamp INTEGER NOT NULL, -- Unix nanoseconds
		metadata TEXT
	);
	CREATE TABLE IF NOT EXISTS message (
		message_id TEXT PRIMARY KEY NOT NULL,
		flow_id TEXT NOT NULL REFERENCES flow(flow_id),
		kind TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		data TEXT,
		metadata TEXT
	);
	CREATE TABLE IF NOT EXISTS blob (
		hash TEXT PRIMARY KEY NOT NULL,
		size INTEGER NOT NULL,
		content BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS artifact (
		artifact_id TEXT PRIMARY KEY NOT NULL,
		flow_id TEXT REFERENCES flow(flow_id),
		message_id TEXT REFERENCES message(message_id),
		mime_type TEXT,
		file_name TEXT,
		timestamp INTEGER NOT NULL,
		hash TEXT NOT NULL,
		size INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flow_parent ON flow(parent_id);
	CREATE INDEX IF NOT EXISTS idx_flow_timestamp ON flow(timestamp);
	CREATE INDEX IF NOT EXISTS idx_message_flow ON message(flow_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_artifact_flow ON artifact(flow_id);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}
	version, err := s.Metadata(context.Background(), "format_version")
	if err != nil {
		return err
	}
	if version == "" {
		return s.SetMetadata(context.Background(), "format_version", FormatVersion)
	}
	if version != FormatVersion {
		return E.New("unsupported format version: ", version)
	}
	return nil
}

func (s *Store) Metadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *Store) SetMetadata(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	return err
}

func (s *Store) InsertFlow(ctx context.Context, flow *model.Flow) error {
	var parentID any
	if parent, loaded := flow.Parent(); loaded {
		parentID = parent.String()
	}
	metadata, err := encodeMetadata(&flow.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow (flow_id, parent_id, destination_address, destination_port, protocol, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		flow.ID.String(),
		parentID,
		flow.Destination.AddrString(),
		flow.Destination.Port,
		flow.Protocol,
		flow.Timestamp.UnixNano(),
		metadata,
	)
	return err
}

func (s *Store) InsertMessage(ctx context.Context, message *model.Message) error {
	data, err := json.Marshal(message.Data)
	if err != nil {
		return E.Cause(err, "encode message data")
	}
	metadata, err := encodeMetadata(&message.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message (message_id, flow_id, kind, timestamp, data, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		message.ID.String(),
		message.FlowID.String(),
		string(message.Kind),
		message.Timestamp.UnixNano(),
		string(data),
		metadata,
	)
	return err
}

func (s *Store) InsertArtifact(ctx context.Context, artifact *model.Artifact) error {
	var flowID, messageID any
	if !artifact.FlowID.IsNil() {
		flowID = artifact.FlowID.String()
	}
	if !artifact.MessageID.IsNil() {
		messageID = artifact.MessageID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifact (artifact_id, flow_id, message_id, mime_type, file_name, timestamp, hash, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		artifact.ID.String(),
		flowID,
		messageID,
		artifact.MimeType,
		artifact.FileName,
		artifact.Timestamp.UnixNano(),
		artifact.Hash,
		artifact.Size,
	)
	return err
}

func (s *Store) PutBlob(ctx context.Context, hash string, content []byte) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO blob (hash, size, content)
		VALUES (?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, hash, len(content), content)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	existing, err := s.Blob(ctx, hash)
	if err != nil {
		return false, err
	}
	if !bytes.Equal(existing, content) {
		return false, E.Extend(capture.ErrHashCollision, hash)
	}
	return false, nil
}

func (s *Store) HasBlob(ctx context.Context, hash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blob WHERE hash = ?`, hash).Scan(&count)
	return count > 0, err
}

func (s *Store) Blob(ctx context.Context, hash string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM blob WHERE hash = ?`, hash).Scan(&content)
	return content, err
}

type FlowRecord struct {
	ID                 model.FlowID
	ParentID           model.FlowID
	DestinationAddress string
	DestinationPort    uint16
	Protocol           string
	Timestamp          time.Time
	Metadata           json.RawMessage
}

// Flows lists flows in timestamp order. A nil parent lists every flow.
func (s *Store) Flows(ctx context.Context, parent *model.FlowID, limit int) ([]FlowRecord, error) {
	query := `
		SELECT flow_id, parent_id, destination_address, destination_port, protocol, timestamp, metadata
		FROM flow
	`
	var args []any
	if parent != nil {
		query += " WHERE parent_id = ?"
		args = append(args, parent.String())
	}
	// a negative limit makes sqlite ignore it
	if limit <= 0 {
		limit = -1
	}
	query += " ORDER BY timestamp ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []FlowRecord
	for rows.Next() {
		var (
			record    FlowRecord
			flowID    string
			parentID  sql.NullString
			timestamp int64
			metadata  sql.NullString
		)
		err = rows.Scan(&flowID, &parentID, &record.DestinationAddress, &record.DestinationPort, &record.Protocol, &timestamp, &metadata)
		if err != nil {
			return nil, err
		}
		err = record.ID.UnmarshalText([]byte(flowID))
		if err != nil {
			return nil, err
		}
		if parentID.Valid {
			err = record.ParentID.UnmarshalText([]byte(parentID.String))
			if err != nil {
				return nil, err
			}
		}
		record.Timestamp = time.Unix(0, timestamp)
		if metadata.Valid {
			record.Metadata = json.RawMessage(metadata.String)
		}
		flows = append(flows, record)
	}
	return flows, rows.Err()
}

type MessageRecord struct {
	ID        model.MessageID
	FlowID    model.FlowID
	Kind      model.MessageKind
	Timestamp time.Time
	Data      json.RawMessage
}

func (s *Store) Messages(ctx context.Context, flowID model.FlowID) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, kind, timestamp, data
		FROM message
		WHERE flow_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, flowID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []MessageRecord
	for rows.Next() {
		var (
			record    MessageRecord
			messageID string
			kind      string
			timestamp int64
			data      sql.NullString
		)
		err = rows.Scan(&messageID, &kind, &timestamp, &data)
		if err != nil {
			return nil, err
		}
		err = record.ID.UnmarshalText([]byte(messageID))
		if err != nil {
			return nil, err
		}
		record.FlowID = flowID
		record.Kind = model.MessageKind(kind)
		record.Timestamp = time.Unix(0, timestamp)
		if data.Valid {
			record.Data = json.RawMessage(data.String)
		}
		messages = append(messages, record)
	}
	return messages, rows.Err()
}

func (s *Store) Artifacts(ctx context.Context, flowID model.FlowID) ([]model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, message_id, mime_type, file_name, timestamp, hash, size
		FROM artifact
		WHERE flow_id = ?
		ORDER BY timestamp ASC
	`, flowID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var (
			artifact   model.Artifact
			artifactID string
			messageID  sql.NullString
			timestamp  int64
		)
		err = rows.Scan(&artifactID, &messageID, &artifact.MimeType, &artifact.FileName, &timestamp, &artifact.Hash, &artifact.Size)
		if err != nil {
			return nil, err
		}
		err = artifact.ID.UnmarshalText([]byte(artifactID))
		if err != nil {
			return nil, err
		}
		if messageID.Valid {
			err = artifact.MessageID.UnmarshalText([]byte(messageID.String))
			if err != nil {
				return nil, err
			}
		}
		artifact.FlowID = flowID
		artifact.Timestamp = time.Unix(0, timestamp)
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func encodeMetadata(metadata *model.Metadata) (any, error) {
	if metadata.Len() == 0 {
		return nil, nil
	}
	content, err := json.Marshal(metadata)
	if err != nil {
		return nil, E.Cause(err, "encode metadata")
	}
	return string(content), nil
}
