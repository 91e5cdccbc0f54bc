// Package core holds the cross-cutting pieces shared by the genomic services:
// persistence selection, the default rule set, and the observability seams.
package core

import (
	"fmt"

	"genomicore/pkg/domain"
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
	RulesEngine     = domain.RulesEngine
	Rule            = domain.Rule
	Result          = domain.Result
	Change          = domain.Change
	Violation       = domain.Violation
	EntityType      = domain.EntityType
)

// ErrNotFound is returned when reference validation fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
