package targetdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/indexpilot/indexpilot/internal/apperr"
	"github.com/indexpilot/indexpilot/internal/inventory"
	"github.com/indexpilot/indexpilot/internal/secaudit"
	"github.com/indexpilot/indexpilot/pkg/crypto"
	"github.com/indexpilot/indexpilot/pkg/util"
)

// Handle is a live connection to one target. It is owned by the cycle worker
// that opened it and must be closed at cycle end.
type Handle struct {
	Target Target
	Engine inventory.Engine
	DB     *sql.DB
}

// Close releases the target connection pool.
func (h *Handle) Close() error {
	if h == nil || h.DB == nil {
		return nil
	}
	return h.DB.Close()
}

// Connector opens validated connections to registered targets. One handshake
// per target per cycle: callers open a Handle once and pass it down.
type Connector struct {
	Repo        *Repo
	PingTimeout time.Duration
}

func (c *Connector) pingTimeout() time.Duration {
	if c.PingTimeout > 0 {
		return c.PingTimeout
	}
	return 10 * time.Second
}

// Connect returns a live handle for the named target or a ConnectionError
// distinguishing unregistered, disabled, unreachable, auth failure and
// missing capability.
func (c *Connector) Connect(ctx context.Context, name string) (*Handle, error) {
	t, err := c.Repo.GetByName(ctx, name)
	if err != nil {
		return nil, &apperr.ConnectionError{Target: name, Reason: apperr.ReasonUnregistered, Err: err}
	}
	return c.ConnectTarget(ctx, t)
}

// ConnectTarget is Connect for an already-loaded registration row.
func (c *Connector) ConnectTarget(ctx context.Context, t Target) (*Handle, error) {
	if !t.Enabled {
		return nil, &apperr.ConnectionError{Target: t.Name, Reason: apperr.ReasonDisabled}
	}
	engine, err := inventory.ForDriver(t.Driver)
	if err != nil {
		return nil, &apperr.ConnectionError{Target: t.Name, Reason: apperr.ReasonCapability, Err: err}
	}
	dsnBytes, err := crypto.Decrypt(t.DSNEnc)
	if err != nil {
		return nil, &apperr.ConnectionError{Target: t.Name, Reason: apperr.ReasonAuth,
			Err: fmt.Errorf("decrypt credential: %w", err)}
	}
	dsn := string(dsnBytes)
	if !util.HasDatabaseName(t.Driver, dsn) {
		return nil, &apperr.ConnectionError{Target: t.Name, Reason: apperr.ReasonUnreachable,
			Err: errors.New("DSN must include a database name")}
	}
	db, err := sql.Open(t.Driver, dsn)
	if err != nil {
		return nil, &apperr.ConnectionError{Target: t.Name, Reason: apperr.ReasonUnreachable, Err: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		reason := apperr.ReasonUnreachable
		var ce *apperr.ConnectionError
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		return nil, &apperr.ConnectionError{Target: t.Name, Reason: reason, Err: err}
	}
	if err := engine.CheckOnlineRebuild(ctx, db); err != nil {
		_ = db.Close()
		return nil, &apperr.ConnectionError{Target: t.Name, Reason: apperr.ReasonCapability, Err: err}
	}
	return &Handle{Target: t, Engine: engine, DB: db}, nil
}

// Requirement is one audited aspect of a target's connection setup.
type Requirement struct {
	Name   string          `json:"name"`
	Status secaudit.Status `json:"status"`
	Detail string          `json:"detail,omitempty"`
}

// AuditSetup reports per-requirement status for the named target without
// failing fast: every requirement is checked even after an earlier one fails.
func (c *Connector) AuditSetup(ctx context.Context, name string) []Requirement {
	reqs := make([]Requirement, 0, 6)

	t, err := c.Repo.GetByName(ctx, name)
	if err != nil {
		reqs = append(reqs, Requirement{Name: "descriptor_registered", Status: secaudit.StatusMissing, Detail: err.Error()})
		return reqs
	}
	reqs = append(reqs, Requirement{Name: "descriptor_registered", Status: secaudit.StatusOK})

	engine, err := inventory.ForDriver(t.Driver)
	if err != nil {
		reqs = append(reqs, Requirement{Name: "driver_supported", Status: secaudit.StatusMisconfigured, Detail: err.Error()})
		return reqs
	}
	reqs = append(reqs, Requirement{Name: "driver_supported", Status: secaudit.StatusOK})

	dsnBytes, err := crypto.Decrypt(t.DSNEnc)
	if err != nil {
		reqs = append(reqs, Requirement{Name: "credential_mapping", Status: secaudit.StatusMisconfigured, Detail: err.Error()})
		return reqs
	}
	reqs = append(reqs, Requirement{Name: "credential_mapping", Status: secaudit.StatusOK})

	db, err := sql.Open(t.Driver, string(dsnBytes))
	if err != nil {
		reqs = append(reqs, Requirement{Name: "reachable", Status: secaudit.StatusMisconfigured, Detail: err.Error()})
		return reqs
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		reqs = append(reqs, Requirement{Name: "reachable", Status: secaudit.StatusMissing, Detail: err.Error()})
		return reqs
	}
	reqs = append(reqs, Requirement{Name: "reachable", Status: secaudit.StatusOK})

	if err := engine.CheckOnlineRebuild(ctx, db); err != nil {
		reqs = append(reqs, Requirement{Name: "online_rebuild_capability", Status: secaudit.StatusMissing, Detail: err.Error()})
	} else {
		reqs = append(reqs, Requirement{Name: "online_rebuild_capability", Status: secaudit.StatusOK})
	}

	for _, cap := range secaudit.RunProbes(ctx, engine.PermissionProbes(db)) {
		reqs = append(reqs, Requirement{Name: "grant_" + cap.Name, Status: cap.Status, Detail: cap.Detail})
	}
	return reqs
}
