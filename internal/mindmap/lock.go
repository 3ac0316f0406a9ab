package mindmap

// EditLock marks the single node under active local editing. The zero value
// is unlocked. Locking a node implicitly releases any previously locked one.
type EditLock struct {
	nodeID string
}

// Lock returns a lock held on nodeID.
func (l EditLock) Lock(nodeID string) EditLock {
	return EditLock{nodeID: nodeID}
}

// Unlock returns the unlocked state.
func (l EditLock) Unlock() EditLock {
	return EditLock{}
}

// Locked reports whether any node is locked.
func (l EditLock) Locked() bool {
	return l.nodeID != ""
}

// Holds reports whether nodeID is the locked node.
func (l EditLock) Holds(nodeID string) bool {
	return l.nodeID != "" && l.nodeID == nodeID
}

// NodeID returns the locked node id, or "" when unlocked.
func (l EditLock) NodeID() string {
	return l.nodeID
}
