package sendq

//
// Send-side memory accounting
//

import "sync/atomic"

// SocketMemory is a [MemoryAccountant] charging against a send
// buffer budget. The zero value is ready to use and has no limit
// until [SocketMemory.SetLimit] is called.
type SocketMemory struct {
	// alloc is the bytes currently charged.
	alloc atomic.Int64

	// limit is the send buffer budget; zero means unlimited.
	limit atomic.Int64
}

var _ MemoryAccountant = &SocketMemory{}

// Charge implements MemoryAccountant
func (sm *SocketMemory) Charge(n int) {
	sm.alloc.Add(int64(n))
}

// TryCharge implements MemoryAccountant
func (sm *SocketMemory) TryCharge(n int) bool {
	limit := sm.limit.Load()
	if limit > 0 && sm.alloc.Load()+int64(n) > limit {
		return false
	}
	sm.alloc.Add(int64(n))
	return true
}

// Uncharge implements MemoryAccountant
func (sm *SocketMemory) Uncharge(n int) {
	sm.alloc.Add(int64(-n))
}

// SetLimit implements MemoryAccountant
func (sm *SocketMemory) SetLimit(n int64) {
	sm.limit.Store(n)
}

// Allocated returns the bytes currently charged.
func (sm *SocketMemory) Allocated() int64 {
	return sm.alloc.Load()
}
