// Package app wires the snapshot components together and drives their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anyproto/any-snapshot/app/logger"
)

var (
	// values of these vars are set at build time
	GitCommit, GitBranch, GitState, GitSummary, BuildDate string
)

var log = logger.NewNamed("app")

// Component is a minimal interface for a common app.Component
type Component interface {
	// Init is called first, a non-nil error aborts the start
	Init(a *App) (err error)
	// Name must return a unique component name
	Name() (name string)
}

// ComponentRunnable is a component with a background part or resources to release
type ComponentRunnable interface {
	Component
	// Run is called after all components have been initialized
	Run(ctx context.Context) (err error)
	// Close is called on shutdown in reverse registration order,
	// and also for already started components when Init or Run fails
	Close(ctx context.Context) (err error)
}

// App holds all registered components
type App struct {
	components []Component
	mu         sync.RWMutex
}

func Version() string {
	return GitSummary
}

func VersionDescription() string {
	return fmt.Sprintf("build on %s from %s at #%s(%s)", BuildDate, GitBranch, GitCommit, GitState)
}

// Register adds a component. Components are initialized and run in registration order.
func (app *App) Register(s Component) *App {
	app.mu.Lock()
	defer app.mu.Unlock()
	for _, es := range app.components {
		if s.Name() == es.Name() {
			panic(fmt.Errorf("component '%s' already registered", s.Name()))
		}
	}
	app.components = append(app.components, s)
	return app
}

// Component returns the component with the given name or nil
func (app *App) Component(name string) Component {
	app.mu.RLock()
	defer app.mu.RUnlock()
	for _, s := range app.components {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// MustComponent is like Component, but panics if the component wasn't registered
func (app *App) MustComponent(name string) Component {
	s := app.Component(name)
	if s == nil {
		panic(fmt.Errorf("component '%s' not registered", name))
	}
	return s
}

// MustComponent returns the first registered component implementing T or panics
func MustComponent[T any](app *App) T {
	app.mu.RLock()
	defer app.mu.RUnlock()
	for _, s := range app.components {
		if v, ok := s.(T); ok {
			return v
		}
	}
	var empty T
	panic(fmt.Errorf("component of type %T not registered", empty))
}

func (app *App) ComponentNames() (names []string) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	names = make([]string, len(app.components))
	for i, c := range app.components {
		names[i] = c.Name()
	}
	return
}

// Start initializes and then runs every component
func (app *App) Start(ctx context.Context) (err error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	closeStarted := func() {
		for i := len(app.components) - 1; i >= 0; i-- {
			if r, ok := app.components[i].(ComponentRunnable); ok {
				if e := r.Close(ctx); e != nil {
					log.Info("close error", zap.String("component", r.Name()), zap.Error(e))
				}
			}
		}
	}

	for _, s := range app.components {
		if err = s.Init(app); err != nil {
			closeStarted()
			return fmt.Errorf("can't init component '%s': %w", s.Name(), err)
		}
	}
	for _, s := range app.components {
		r, ok := s.(ComponentRunnable)
		if !ok {
			continue
		}
		start := time.Now()
		if err = r.Run(ctx); err != nil {
			closeStarted()
			return fmt.Errorf("can't run component '%s': %w", r.Name(), err)
		}
		log.Debug("component started", zap.String("component", r.Name()), zap.Duration("spent", time.Since(start)))
	}
	log.Debug("all components started")
	return nil
}

// Close closes runnable components in reverse order and joins their errors
func (app *App) Close(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	var errs []error
	for i := len(app.components) - 1; i >= 0; i-- {
		if r, ok := app.components[i].(ComponentRunnable); ok {
			if e := r.Close(ctx); e != nil {
				errs = append(errs, fmt.Errorf("component '%s' close error: %w", r.Name(), e))
			}
		}
	}
	return errors.Join(errs...)
}
