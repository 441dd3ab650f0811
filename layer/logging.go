package layer

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/model"
)

var _ adapter.Stage = (*LogStage)(nil)

// LogStage counts the bytes crossing the client leg and reports them as a
// data message when the session ends.
type LogStage struct{}

func (s *LogStage) Name() string {
	return C.StageLog
}

func (s *LogStage) Kind() adapter.StageKind {
	return adapter.StageKindObserve
}

func (s *LogStage) Handle(ctx context.Context, session adapter.Session) error {
	conn := &countingConn{Conn: session.ClientConn()}
	session.SetClientConn(conn)
	flow := session.Flow()
	startedAt := time.Now()
	session.Logger().InfoContext(ctx, "flow ", flow.ID, " ", flow.Protocol, " to ", flow.Destination)
	session.OnClose(func() {
		count := &model.ByteCount{
			Upload:   conn.read.Load(),
			Download: conn.written.Load(),
		}
		session.Logger().InfoContext(ctx, "flow ", flow.ID, " closed after ", time.Since(startedAt).Round(time.Millisecond), ": ", count.Upload, " bytes up, ", count.Download, " bytes down")
		message := model.NewMessage(flow, model.KindData, count)
		err := session.Emit(ctx, message)
		if err != nil {
			session.Logger().ErrorContext(ctx, err)
		}
	})
	return nil
}

type countingConn struct {
	net.Conn
	read    atomic.Int64
	written atomic.Int64
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.read.Add(int64(n))
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.written.Add(int64(n))
	return n, err
}
