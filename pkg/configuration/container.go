package configuration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/keystore"
)

var (
	// ErrUpdateRejected matches every [UpdateError].
	ErrUpdateRejected = errors.New("configuration update rejected")

	// ErrInvalidModel indicates a configuration model failed validation.
	ErrInvalidModel = errors.New("invalid configuration model")
)

// UpdateError is returned when a configuration update is rejected.
// The previous configuration remains active.
type UpdateError struct {
	Err error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("configuration: update rejected: %v", e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUpdateRejected.
func (e *UpdateError) Is(target error) bool { return target == ErrUpdateRejected }

// Snapshot is a consistent view of model and identity. Treat it as read-only.
type Snapshot struct {
	Model    *infomodel.ConfigurationModel
	Identity *keystore.Material
}

// Listener is notified after a new snapshot has been published.
// Returning an error rolls the update back.
type Listener interface {
	ConfigurationChanged(ctx context.Context, snapshot Snapshot) error
}

// ListenerFunc adapts a function to [Listener].
type ListenerFunc func(ctx context.Context, snapshot Snapshot) error

// ConfigurationChanged calls f.
func (f ListenerFunc) ConfigurationChanged(ctx context.Context, snapshot Snapshot) error {
	return f(ctx, snapshot)
}

// Recorder observes update outcomes.
type Recorder interface {
	ConfigurationUpdated(ok bool)
}

// Config configures a [Container].
type Config struct {
	// Credentials are reused for every identity rebuild.
	Credentials keystore.Credentials

	// KeystoreOptions are passed to [keystore.Load].
	KeystoreOptions []keystore.Option

	Logger   *slog.Logger
	Recorder Recorder
}

// Container holds the active configuration model and identity.
type Container struct {
	current atomic.Pointer[Snapshot]

	mu        sync.Mutex // serializes Update and Subscribe
	listeners []Listener

	creds    keystore.Credentials
	opts     []keystore.Option
	validate *validator.Validate
	logger   *slog.Logger
	recorder Recorder
}

// New validates model, loads the identity it references and returns a
// container holding both.
func New(model *infomodel.ConfigurationModel, cfg Config) (*Container, error) {
	c := newContainer(cfg)
	if err := c.check(model); err != nil {
		return nil, err
	}
	identity, err := keystore.Load(model, c.creds, c.opts...)
	if err != nil {
		return nil, err
	}
	c.current.Store(&Snapshot{Model: model, Identity: identity})
	return c, nil
}

// NewWithIdentity returns a container for an already loaded identity.
func NewWithIdentity(model *infomodel.ConfigurationModel, identity *keystore.Material, cfg Config) *Container {
	c := newContainer(cfg)
	c.current.Store(&Snapshot{Model: model, Identity: identity})
	return c
}

func newContainer(cfg Config) *Container {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := append([]keystore.Option{keystore.WithLogger(logger)}, cfg.KeystoreOptions...)
	return &Container{
		creds:    cfg.Credentials,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		recorder: cfg.Recorder,
	}
}

// Current returns the active snapshot.
func (c *Container) Current() Snapshot {
	return *c.current.Load()
}

// Model returns the active configuration model.
func (c *Container) Model() *infomodel.ConfigurationModel {
	return c.current.Load().Model
}

// Identity returns the active identity material.
func (c *Container) Identity() *keystore.Material {
	return c.current.Load().Identity
}

// Connector returns the active connector self-description.
func (c *Container) Connector() *infomodel.Connector {
	return c.current.Load().Model.ConnectorDescription
}

// Subscribe registers a listener for future updates.
func (c *Container) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Update replaces model and identity together, or neither.
func (c *Container) Update(ctx context.Context, model *infomodel.ConfigurationModel) error {
	err := c.update(ctx, model)
	if c.recorder != nil {
		c.recorder.ConfigurationUpdated(err == nil)
	}
	if err != nil {
		c.logger.Warn("configuration update rejected", "error", err)
		return err
	}
	c.logger.Info("configuration updated", "connector", model.ConnectorID())
	return nil
}

func (c *Container) update(ctx context.Context, model *infomodel.ConfigurationModel) error {
	if err := c.check(model); err != nil {
		return &UpdateError{Err: err}
	}
	model, err := model.Clone()
	if err != nil {
		return &UpdateError{Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	identity, err := keystore.Load(model, c.creds, c.opts...)
	if err != nil {
		return &UpdateError{Err: err}
	}

	previous := c.current.Load()
	next := &Snapshot{Model: model, Identity: identity}
	c.current.Store(next)

	if err := c.notify(ctx, *next); err != nil {
		c.current.Store(previous)
		if rbErr := c.notify(ctx, *previous); rbErr != nil {
			c.logger.Error("restoring listeners after failed update", "error", rbErr)
		}
		return &UpdateError{Err: err}
	}
	return nil
}

func (c *Container) notify(ctx context.Context, s Snapshot) error {
	for _, l := range c.listeners {
		if err := l.ConfigurationChanged(ctx, s); err != nil {
			return fmt.Errorf("applying configuration: %w", err)
		}
	}
	return nil
}

func (c *Container) check(model *infomodel.ConfigurationModel) error {
	if model == nil {
		return fmt.Errorf("%w: nil model", ErrInvalidModel)
	}
	if err := c.validate.Struct(model); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	return nil
}

// ReadModel reads a configuration model document, looking in resources
// before the filesystem.
func ReadModel(resources fs.FS, location string) (*infomodel.ConfigurationModel, error) {
	data, err := keystore.ReadResource(resources, location)
	if err != nil {
		return nil, fmt.Errorf("reading configuration model: %w", err)
	}
	return infomodel.UnmarshalConfigurationModel(data)
}
