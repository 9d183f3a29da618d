package sema

// OpenTransaction begins an undo-able batch of registrations (spec §4.7:
// incremental per-statement compilation resolves a statement speculatively
// and rolls back on a SemanticError/CodeGenerationError). Only one
// transaction may be open at a time.
func (m *Manager) OpenTransaction() error {
	if m.tx != nil {
		return ErrTransactionOpen
	}
	m.tx = &txState{savedGlobalTop: m.globalTop, createdTypes: len(m.types)}
	return nil
}

// AcceptTransaction commits the batch: the created scopes/vars/types
// become permanent and the undo log is discarded.
func (m *Manager) AcceptTransaction() error {
	if m.tx == nil {
		return ErrNoTransaction
	}
	m.tx = nil
	return nil
}

// RejectTransaction undoes every scope, variable, and type created since
// the matching OpenTransaction, and restores the global segment top —
// leaving the manager exactly as it was before the failed compile attempt
// (spec §8 testable property: "transaction rollback leaves no trace").
func (m *Manager) RejectTransaction() error {
	if m.tx == nil {
		return ErrNoTransaction
	}
	tx := m.tx
	for _, id := range tx.createdVars {
		delete(m.vars, id)
	}
	for _, id := range tx.createdScopes {
		delete(m.scopeParent, id)
		delete(m.scopeBranch, id)
		delete(m.scopeState, id)
		delete(m.scopeLookup, id)
		delete(m.allocating, id)
	}
	if tx.createdTypes < len(m.types) {
		m.types = m.types[:tx.createdTypes]
	}
	m.globalTop = tx.savedGlobalTop
	m.tx = nil
	return nil
}

// InTransaction reports whether a transaction is currently open.
func (m *Manager) InTransaction() bool { return m.tx != nil }
