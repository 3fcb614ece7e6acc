package domain

// Journal records undo steps for every ledger mutation so a failed
// operation can be rolled back to its starting point.
// Not safe for concurrent use; the engine serializes all operations.
type Journal struct {
	undo []func()
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append records an undo step. A nil journal discards it.
func (j *Journal) Append(undo func()) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, undo)
}

// Mark returns a revision to revert to.
func (j *Journal) Mark() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}

// RevertTo undoes every step recorded after mark, newest first.
func (j *Journal) RevertTo(mark int) {
	if j == nil {
		return
	}
	for i := len(j.undo) - 1; i >= mark; i-- {
		j.undo[i]()
		j.undo[i] = nil
	}
	j.undo = j.undo[:mark]
}

// Commit drops all undo steps.
func (j *Journal) Commit() {
	if j == nil {
		return
	}
	clear(j.undo)
	j.undo = j.undo[:0]
}

// Len returns the number of pending undo steps.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}
