// Package idgen mints the broker's opaque identifiers (spec §3.1).
package idgen

import (
	"github.com/google/uuid"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// UUID generates identifiers backed by google/uuid v4.
type UUID struct{}

// New returns a UUID generator.
func New() UUID { return UUID{} }

func (UUID) NewTaskInstanceID() ports.TaskInstanceID { return ports.TaskInstanceID(uuid.NewString()) }
func (UUID) NewCorrelationID() ports.CorrelationID   { return ports.CorrelationID(uuid.NewString()) }
func (UUID) NewGroupID() ports.GroupID               { return ports.GroupID(uuid.NewString()) }
func (UUID) NewBranchID() ports.BranchID             { return ports.BranchID(uuid.NewString()) }

var _ ports.IDGenerator = UUID{}
