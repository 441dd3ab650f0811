package inbound

import (
	"context"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

func New(ctx context.Context, handler adapter.ConnectionHandler, logger logger.ContextLogger, options option.Inbound) (adapter.Inbound, error) {
	switch options.Type {
	case C.TypeMixed, C.TypeSOCKS, C.TypeHTTP:
		return NewMixed(ctx, handler, logger, options.Tag, options)
	case "":
		return nil, E.New("missing inbound type")
	default:
		return nil, E.New("unknown inbound type: ", options.Type)
	}
}
