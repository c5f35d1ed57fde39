// Package runtime is a thin adapter over the container engine for exactly
// one named container. It exposes the operations the lifecycle manager
// needs and classifies engine failures so callers can tell "daemon
// unreachable" from "container not found" from "image pull failure".
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ContainerState is the observed state of the named container.
type ContainerState string

const (
	StateNotFound ContainerState = "not_found"
	StateCreated  ContainerState = "created"
	StateRunning  ContainerState = "running"
	StateExited   ContainerState = "exited"
	StateUnknown  ContainerState = "unknown"
)

// Inspection is a snapshot of the container as reported by the engine.
type Inspection struct {
	ID         string
	State      ContainerState
	Image      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Spec describes the container to create. Env carries gateway credentials
// and trading mode; Ports maps container port to host port.
type Spec struct {
	Name          string
	Image         string
	Env           []string
	Ports         map[int]int
	RestartPolicy string // "unless-stopped" by default
}

// Runtime is the engine boundary. Implementations must be safe for
// concurrent use.
type Runtime interface {
	// EnsureImage pulls the image if it is not already present.
	EnsureImage(ctx context.Context, image string) error
	// Create creates the named container and returns its ID.
	Create(ctx context.Context, spec Spec) (string, error)
	// Start starts the named container.
	Start(ctx context.Context, name string) error
	// Stop stops the container gracefully, escalating to SIGKILL after grace.
	Stop(ctx context.Context, name string, grace time.Duration) error
	// Remove force-removes the named container.
	Remove(ctx context.Context, name string) error
	// Inspect returns the current observed state. A missing container is
	// reported as StateNotFound, not as an error.
	Inspect(ctx context.Context, name string) (Inspection, error)
	// Logs returns the last tail lines of container output.
	Logs(ctx context.Context, name string, tail int) ([]string, error)
	Close() error
}

// ErrorKind classifies container engine failures.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUnavailable
	KindNotFound
	KindImagePull
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "daemon_unavailable"
	case KindNotFound:
		return "not_found"
	case KindImagePull:
		return "image_pull"
	default:
		return "internal"
	}
}

// ContainerError wraps an engine failure with its classification and the
// operation that produced it.
type ContainerError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ContainerError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a ContainerError classified as
// "container not found".
func IsNotFound(err error) bool {
	var ce *ContainerError
	return errors.As(err, &ce) && ce.Kind == KindNotFound
}

// IsUnavailable reports whether err indicates the engine daemon is
// unreachable.
func IsUnavailable(err error) bool {
	var ce *ContainerError
	return errors.As(err, &ce) && ce.Kind == KindUnavailable
}
