package skunk

import (
	"context"
	"io"
	"time"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/ca"
	"github.com/twnesss/skunk/capture"
	"github.com/twnesss/skunk/filter"
	"github.com/twnesss/skunk/inbound"
	"github.com/twnesss/skunk/layer"
	"github.com/twnesss/skunk/log"
	"github.com/twnesss/skunk/mitm"
	"github.com/twnesss/skunk/option"
	"github.com/twnesss/skunk/outbound"
	"github.com/twnesss/skunk/route"
	"github.com/twnesss/skunk/store/bolt"
	"github.com/twnesss/skunk/store/sqlite"

	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	F "github.com/sagernet/sing/common/format"
	"github.com/sagernet/sing/common/logger"
)

type Options struct {
	option.Options
	Context context.Context
}

type Box struct {
	createdAt  time.Time
	logFactory *log.Factory
	logger     logger.ContextLogger
	authority  *ca.Authority
	outbound   *outbound.Manager
	router     *route.Router
	stack      *layer.Stack
	inbounds   []adapter.Inbound
	stores     []io.Closer
}

func New(options Options) (_ *Box, err error) {
	createdAt := time.Now()
	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logFactory, err := log.New(common.PtrValueOrDefault(options.Log))
	if err != nil {
		return nil, E.Cause(err, "create log factory")
	}
	box := &Box{
		createdAt:  createdAt,
		logFactory: logFactory,
		logger:     logFactory.NewLogger(""),
	}
	defer func() {
		if err != nil {
			box.Close()
		}
	}()
	caOptions := common.PtrValueOrDefault(options.CA)
	if caOptions.Directory == "" {
		return nil, E.New("missing ca.directory")
	}
	box.authority, err = ca.IssueRoot(logFactory.NewLogger("ca"), caOptions)
	if err != nil {
		return nil, E.Cause(err, "initialize certificate authority")
	}
	box.outbound, err = outbound.NewManager(ctx, logFactory, options.Outbounds)
	if err != nil {
		return nil, E.Cause(err, "initialize outbounds")
	}
	var cache filter.Cache
	box.router, err = route.NewRouter(box.outbound, logFactory.NewLogger("router"), &cache, common.PtrValueOrDefault(options.Route))
	if err != nil {
		return nil, E.Cause(err, "initialize router")
	}
	layerOptions := common.PtrValueOrDefault(options.Layer)
	registry := layer.NewRegistry()
	tlsStage, err := mitm.NewTLSStage(layerOptions.TLS)
	if err != nil {
		return nil, E.Cause(err, "initialize tls stage")
	}
	httpStage, err := mitm.NewHTTPStage(layerOptions.HTTP)
	if err != nil {
		return nil, E.Cause(err, "initialize http stage")
	}
	for _, stage := range []adapter.Stage{tlsStage, httpStage} {
		err = registry.Register(stage)
		if err != nil {
			return nil, err
		}
	}
	sink, blobs, err := box.openStore(common.PtrValueOrDefault(options.Store))
	if err != nil {
		return nil, err
	}
	box.stack, err = layer.NewStack(logFactory.NewLogger("layer"), layer.Options{
		Router:    box.router,
		Authority: box.authority,
		Emitter:   capture.NewEmitter(sink, blobs, logFactory.NewLogger("capture")),
		Registry:  registry,
		Cache:     &cache,
		Rules:     layerOptions.Rules,
	})
	if err != nil {
		return nil, E.Cause(err, "initialize layer stack")
	}
	for i, inboundOptions := range options.Inbounds {
		tag := inboundOptions.Tag
		if tag == "" {
			tag = F.ToString(i)
			inboundOptions.Tag = tag
		}
		var inboundInstance adapter.Inbound
		inboundInstance, err = inbound.New(ctx, box.stack, logFactory.NewLogger("inbound/"+inboundOptions.Type+"["+tag+"]"), inboundOptions)
		if err != nil {
			return nil, E.Cause(err, "parse inbound[", i, "]")
		}
		box.inbounds = append(box.inbounds, inboundInstance)
	}
	return box, nil
}

func (b *Box) openStore(options option.StoreOptions) (adapter.Sink, adapter.BlobStore, error) {
	if options.Path == "" {
		if options.BlobPath != "" {
			return nil, nil, E.New("store.blob_path requires store.path")
		}
		memoryStore := capture.NewMemoryStore()
		return memoryStore, memoryStore, nil
	}
	flowStore, err := sqlite.Open(options.Path)
	if err != nil {
		return nil, nil, E.Cause(err, "open flow store")
	}
	b.stores = append(b.stores, flowStore)
	if options.BlobPath == "" {
		return flowStore, flowStore, nil
	}
	blobStore, err := bolt.Open(options.BlobPath)
	if err != nil {
		return nil, nil, E.Cause(err, "open blob store")
	}
	b.stores = append(b.stores, blobStore)
	return flowStore, blobStore, nil
}

func (b *Box) Start() error {
	err := b.outbound.Start()
	if err != nil {
		return E.Cause(err, "start outbounds")
	}
	for i, inboundInstance := range b.inbounds {
		err = inboundInstance.Start()
		if err != nil {
			return E.Cause(err, "start inbound/", inboundInstance.Type(), "[", i, "]")
		}
	}
	b.logger.Info("skunk started (", F.Seconds(time.Since(b.createdAt).Seconds()), "s)")
	return nil
}

func (b *Box) Close() error {
	var errors error
	for i, inboundInstance := range b.inbounds {
		errors = E.Append(errors, inboundInstance.Close(), func(err error) error {
			return E.Cause(err, "close inbound/", inboundInstance.Type(), "[", i, "]")
		})
	}
	if b.outbound != nil {
		errors = E.Append(errors, b.outbound.Close(), func(err error) error {
			return E.Cause(err, "close outbounds")
		})
	}
	if b.authority != nil {
		errors = E.Append(errors, b.authority.Close(), func(err error) error {
			return E.Cause(err, "close certificate authority")
		})
	}
	for _, store := range b.stores {
		errors = E.Append(errors, store.Close(), func(err error) error {
			return E.Cause(err, "close store")
		})
	}
	errors = E.Append(errors, b.logFactory.Close(), func(err error) error {
		return E.Cause(err, "close logger")
	})
	return errors
}

func (b *Box) Authority() *ca.Authority {
	return b.authority
}

func (b *Box) Inbounds() []adapter.Inbound {
	return b.inbounds
}

func (b *Box) Stack() *layer.Stack {
	return b.stack
}
