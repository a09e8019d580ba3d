package store

import "sync"

// RecordLocks hands out one mutex per (table, id). The local write path holds
// it from the local write until the mutation is queued; anything else that
// writes the local copy takes it too, so it never slips in between.
// A nil *RecordLocks does no locking.
type RecordLocks struct {
	mu   sync.Mutex
	held map[string]*recordLock
}

type recordLock struct {
	sync.Mutex
	refs int
}

func NewRecordLocks() *RecordLocks {
	return &RecordLocks{held: make(map[string]*recordLock)}
}

// Lock blocks until the record is free and returns its unlock func.
func (l *RecordLocks) Lock(table, id string) (unlock func()) {
	if l == nil {
		return func() {}
	}
	key := table + "\x00" + id

	l.mu.Lock()
	rl, ok := l.held[key]
	if !ok {
		rl = &recordLock{}
		l.held[key] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		if rl.refs--; rl.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}

// Len is the number of records currently locked or waited on.
func (l *RecordLocks) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
