package writer

import (
	"context"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/actor"
	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/store"
)

// Message is anything a writer pool member handles.
type Message interface {
	kind() string
}

// WriteBlock persists one block and its inherent rows as a single unit.
type WriteBlock struct {
	Block model.Block
}

// UpdateTimestamp sets the wall-clock time of an already written block.
// Attempt counts deliveries, starting at 1.
type UpdateTimestamp struct {
	Ref     model.BlockRef
	Time    time.Time
	Attempt int
}

// Repos is the storage handle a Query runs against.
type Repos struct {
	Blocks    store.BlockRepository
	Inherents store.InherentRepository
}

// QueryFunc is a blocking read executed on the bridge.
type QueryFunc func(ctx context.Context, r Repos) (any, error)

// Query runs Fn on a pool member and answers through the request.
type Query struct {
	Request actor.Request[QueryFunc, any]
}

func (WriteBlock) kind() string      { return "write_block" }
func (UpdateTimestamp) kind() string { return "update_timestamp" }
func (Query) kind() string           { return "query" }
