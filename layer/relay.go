package layer

import (
	"context"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"

	"github.com/sagernet/sing/common/bufio"
	E "github.com/sagernet/sing/common/exceptions"
)

var _ adapter.Stage = (*RelayStage)(nil)

// RelayStage copies bytes between the legs until both directions finish.
type RelayStage struct{}

func (s *RelayStage) Name() string {
	return C.StageRelay
}

func (s *RelayStage) Kind() adapter.StageKind {
	return adapter.StageKindTerminal
}

func (s *RelayStage) Handle(ctx context.Context, session adapter.Session) error {
	serverConn, err := session.ServerConn(ctx)
	if err != nil {
		return err
	}
	err = bufio.CopyConn(ctx, session.ClientConn(), serverConn)
	if err != nil && !E.IsClosedOrCanceled(err) {
		return err
	}
	return nil
}
