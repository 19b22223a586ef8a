// Package idgen issues human-facing business numbers for receivables, ledger entries and
// outbox messages.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Number prefixes.
const (
	PrefixReceivable = "RCV"
	PrefixEntry      = "CRD"
	PrefixEvent      = "EVT"
)

// Generator wraps one snowflake node. Node ids must be unique per running instance.
type Generator struct {
	node *snowflake.Node
}

// New creates a generator for nodeID (0-1023).
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

func (g *Generator) next(prefix string) string {
	return prefix + g.node.Generate().String()
}

// ReceivableNo returns a new receivable number, e.g. RCV1541815603606036480.
func (g *Generator) ReceivableNo() string {
	return g.next(PrefixReceivable)
}

// EntryNo returns a new credit ledger entry number.
func (g *Generator) EntryNo() string {
	return g.next(PrefixEntry)
}

// EventKey returns a new outbox message key.
func (g *Generator) EventKey() string {
	return g.next(PrefixEvent)
}
