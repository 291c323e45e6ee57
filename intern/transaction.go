package intern

import (
	"errors"

	"github.com/RowanDark/strintern/heap"
)

// ErrTransactionActive is returned by BeginTransaction while another
// transaction is open.
var ErrTransactionActive = errors.New("intern: transaction already active")

type journalEntry struct {
	ref    heap.Ref
	hash   uint32
	strong bool
	insert bool
}

// Transaction journals every table insertion and removal made while it is
// open so they can be undone. Journaled objects stay pinned until the
// transaction ends.
type Transaction struct {
	t       *InternTable
	journal []journalEntry
}

// BeginTransaction opens a transaction. Only one may be open at a time.
func (t *InternTable) BeginTransaction() (*Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tx != nil {
		return nil, ErrTransactionActive
	}
	t.tx = &Transaction{t: t}
	return t.tx, nil
}

// record requires the table lock.
func (tx *Transaction) record(ref heap.Ref, hash uint32, strong, insert bool) {
	tx.t.heap.Pin(ref)
	tx.journal = append(tx.journal, journalEntry{ref: ref, hash: hash, strong: strong, insert: insert})
}

// Len returns the number of journaled changes.
func (tx *Transaction) Len() int {
	tx.t.mu.Lock()
	defer tx.t.mu.Unlock()
	return len(tx.journal)
}

// Commit keeps every change and closes the transaction.
func (tx *Transaction) Commit() {
	tx.t.mu.Lock()
	defer tx.t.mu.Unlock()
	if tx.t.tx != tx {
		return
	}
	tx.t.tx = nil
	tx.release()
}

// Rollback undoes the journaled changes newest first and closes the
// transaction. If any change touched the weak table, Rollback waits until
// weak roots are accessible.
func (tx *Transaction) Rollback() {
	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tx != tx {
		return
	}
	if tx.touchesWeak() {
		t.waitUntilAccessible()
		if t.tx != tx {
			return
		}
	}
	// Undo without journaling the undo itself.
	t.tx = nil
	for i := len(tx.journal) - 1; i >= 0; i-- {
		e := tx.journal[i]
		switch {
		case e.insert && e.strong:
			t.removeStrong(e.ref, e.hash)
		case e.insert:
			// A weak entry may already have been swept.
			t.weak.remove(e.ref, e.hash)
		case e.strong:
			t.strong.insert(e.ref, e.hash)
		default:
			t.weak.insert(e.ref, e.hash)
		}
	}
	t.logger.Debugf("rolled back %d intern table changes", len(tx.journal))
	tx.release()
}

func (tx *Transaction) touchesWeak() bool {
	for _, e := range tx.journal {
		if !e.strong {
			return true
		}
	}
	return false
}

// release drops the journal's pins. Requires the table lock.
func (tx *Transaction) release() {
	for _, e := range tx.journal {
		tx.t.heap.Release(e.ref)
	}
	tx.journal = nil
}
