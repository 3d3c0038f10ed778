package scaling

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
)

// ScaleExecutor emits a declarative instance target for an external
// actuator. Implementations never drive the platform API themselves.
type ScaleExecutor interface {
	Type() string
	Scale(ctx context.Context, replicas int) error
}

// NewExecutor builds the executor named in config. kind is one of
// kubernetes, docker, aws or custom (custom requires SetFunc later).
func NewExecutor(kind string, opts ExecutorOptions, logger *zap.Logger, bus *events.Bus) (ScaleExecutor, error) {
	switch kind {
	case "kubernetes":
		return &KubernetesExecutor{
			logger:     logger,
			bus:        bus,
			Namespace:  opts.Namespace,
			Deployment: opts.Deployment,
		}, nil
	case "docker":
		return &DockerExecutor{logger: logger, bus: bus, Service: opts.Service}, nil
	case "aws":
		return &AWSExecutor{logger: logger, bus: bus, Group: opts.Group}, nil
	case "custom":
		return &CustomExecutor{logger: logger, bus: bus}, nil
	default:
		return nil, fmt.Errorf("unknown scale executor: %s", kind)
	}
}

// ExecutorOptions carries the platform identifiers an executor targets.
type ExecutorOptions struct {
	Namespace  string `mapstructure:"namespace"`
	Deployment string `mapstructure:"deployment"`
	Service    string `mapstructure:"service"`
	Group      string `mapstructure:"group"`
}

// KubernetesExecutor emits a deployment replica target.
type KubernetesExecutor struct {
	logger     *zap.Logger
	bus        *events.Bus
	Namespace  string
	Deployment string
}

func (e *KubernetesExecutor) Type() string { return "kubernetes" }

func (e *KubernetesExecutor) Scale(ctx context.Context, replicas int) error {
	if e.Deployment == "" {
		return fmt.Errorf("kubernetes executor: deployment not configured")
	}
	e.bus.Publish(events.ScaleCommand{
		Base:       events.Now(),
		Executor:   e.Type(),
		Replicas:   replicas,
		Namespace:  e.Namespace,
		Deployment: e.Deployment,
	})
	e.logger.Info("Kubernetes scale command emitted",
		zap.String("namespace", e.Namespace),
		zap.String("deployment", e.Deployment),
		zap.Int("replicas", replicas),
	)
	return nil
}

// DockerExecutor emits a service replica target.
type DockerExecutor struct {
	logger  *zap.Logger
	bus     *events.Bus
	Service string
}

func (e *DockerExecutor) Type() string { return "docker" }

func (e *DockerExecutor) Scale(ctx context.Context, replicas int) error {
	if e.Service == "" {
		return fmt.Errorf("docker executor: service not configured")
	}
	e.bus.Publish(events.ScaleCommand{
		Base:     events.Now(),
		Executor: e.Type(),
		Replicas: replicas,
		Service:  e.Service,
	})
	e.logger.Info("Docker scale command emitted",
		zap.String("service", e.Service),
		zap.Int("replicas", replicas),
	)
	return nil
}

// AWSExecutor emits an auto-scaling-group capacity target.
type AWSExecutor struct {
	logger *zap.Logger
	bus    *events.Bus
	Group  string
}

func (e *AWSExecutor) Type() string { return "aws" }

func (e *AWSExecutor) Scale(ctx context.Context, replicas int) error {
	if e.Group == "" {
		return fmt.Errorf("aws executor: auto-scaling group not configured")
	}
	e.bus.Publish(events.ScaleCommand{
		Base:     events.Now(),
		Executor: e.Type(),
		Replicas: replicas,
		Group:    e.Group,
	})
	e.logger.Info("AWS scale command emitted",
		zap.String("group", e.Group),
		zap.Int("replicas", replicas),
	)
	return nil
}

// CustomExecutor delegates to a user-supplied function.
type CustomExecutor struct {
	logger *zap.Logger
	bus    *events.Bus
	fn     func(ctx context.Context, replicas int) error
}

func (e *CustomExecutor) Type() string { return "custom" }

// SetFunc installs the scaling callback.
func (e *CustomExecutor) SetFunc(fn func(ctx context.Context, replicas int) error) {
	e.fn = fn
}

func (e *CustomExecutor) Scale(ctx context.Context, replicas int) error {
	if e.fn == nil {
		return fmt.Errorf("custom executor: no scale function installed")
	}
	if err := e.fn(ctx, replicas); err != nil {
		return err
	}
	e.bus.Publish(events.ScaleCommand{
		Base:     events.Now(),
		Executor: e.Type(),
		Replicas: replicas,
	})
	return nil
}
