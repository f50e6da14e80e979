// Package periodicsync calls a function in a background loop.
package periodicsync

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/anyproto/any-snapshot/app/logger"
)

type PeriodicSync interface {
	Run()
	Close()
}

type SyncerFunc func(ctx context.Context) error

// New calls caller once on Run and then every period until Close.
// A zero timeout means calls are not limited in time.
func New(period, timeout time.Duration, caller SyncerFunc, l logger.CtxLogger) PeriodicSync {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.CtxWithFields(ctx, zap.String("rootOp", "periodicCall"))
	return &periodicCall{
		caller:     caller,
		log:        l,
		loopCtx:    ctx,
		loopCancel: cancel,
		loopDone:   make(chan struct{}),
		period:     period,
		timeout:    timeout,
	}
}

type periodicCall struct {
	log        logger.CtxLogger
	caller     SyncerFunc
	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	period     time.Duration
	timeout    time.Duration
	isRunning  atomic.Bool
}

func (p *periodicCall) Run() {
	if p.isRunning.Swap(true) {
		return
	}
	go p.loop()
}

func (p *periodicCall) loop() {
	defer close(p.loopDone)
	p.call()
	if p.period <= 0 {
		return
	}
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-p.loopCtx.Done():
			return
		case <-ticker.C:
			p.call()
		}
	}
}

func (p *periodicCall) call() {
	ctx := p.loopCtx
	if p.timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.caller(ctx); err != nil {
		p.log.WarnCtx(ctx, "periodic call error", zap.Error(err))
	}
}

func (p *periodicCall) Close() {
	if !p.isRunning.Load() {
		return
	}
	p.loopCancel()
	<-p.loopDone
}
