// Package backend abstracts deployment-state persistence. The core needs
// only GetState/SaveState; locking and audit logging are optional
// capabilities the orchestrator detects by interface assertion.
package backend

import (
	"context"
	"time"

	"github.com/creact-labs/creact-sub004/pkg/state"
)

// Backend persists per-stack deployment state. GetState returns (nil, nil)
// when the stack has never been deployed.
type Backend interface {
	GetState(ctx context.Context, stackName string) (*state.DeploymentState, error)
	SaveState(ctx context.Context, stackName string, s *state.DeploymentState) error
}

// Locker adds advisory stack locks. AcquireLock returns false when another
// holder owns the lock.
type Locker interface {
	AcquireLock(ctx context.Context, stackName, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, stackName string) error
}

// AuditLogger adds an append-only audit trail.
type AuditLogger interface {
	AppendAuditLog(ctx context.Context, stackName string, entry state.AuditEntry) error
	GetAuditLog(ctx context.Context, stackName string, limit int) ([]state.AuditEntry, error)
}
