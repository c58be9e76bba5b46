package runbus

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	logger      *xlog.Logger
	clock       xclock.Clock
	observers   []Observer
	middlewares []RequestMiddleware
	baseCtx     context.Context
	poolWorkers int
	poolBuffer  int
}

// NewBusBuilder returns a new builder with sensible defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		poolWorkers: 4,
		poolBuffer:  1000,
	}
}

// WithLogger injects a custom xlog logger.
func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

// WithClock injects a custom xclock clock.
func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

// WithObserver attaches observers for lifecycle events.
func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithMiddleware adds bus-wide request middlewares (recovery, retry).
// They are composed around every handler at registration time.
func (bb *BusBuilder) WithMiddleware(mw ...RequestMiddleware) *BusBuilder {
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

// WithObserverPool sizes the async observer dispatch pool.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	if workers > 0 {
		bb.poolWorkers = workers
	}
	if bufferSize > 0 {
		bb.poolBuffer = bufferSize
	}
	return bb
}

// WithContext sets the base context handed to request handlers.
func (bb *BusBuilder) WithContext(ctx context.Context) *BusBuilder {
	if ctx != nil {
		bb.baseCtx = ctx
	}
	return bb
}

// Build assembles the Bus.
func (bb *BusBuilder) Build() *Bus {
	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	baseCtx := bb.baseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	b := &Bus{
		clock:        clk,
		logger:       lg,
		baseCtx:      baseCtx,
		middlewares:  bb.middlewares,
		subs:         make(map[string]*subscription),
		topicSubs:    make(map[string][]string),
		handlers:     make(map[string]RequestHandler),
		sticky:       make(map[string]Envelope),
		observerPool: NewObserverPool(baseCtx, bb.poolWorkers, bb.poolBuffer),
	}

	// Attach a logging observer unless one was supplied externally.
	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		b.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	return b
}

// New constructs a Bus via the builder and returns a close func for
// convenience.
func New(init func(b *BusBuilder)) (*Bus, func() error) {
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus := bb.Build()
	return bus, bus.Close
}
