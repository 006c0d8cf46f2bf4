// Package models holds the record shapes shared by the store, the remote
// client and the sync engine.
package models

// SyncStatus is the per-row sync lifecycle tag. A live row always has one.
type SyncStatus string

const (
	StatusAdded   SyncStatus = "ADDED"
	StatusUpdated SyncStatus = "UPDATED"
	StatusDeleted SyncStatus = "DELETED"
	StatusSynced  SyncStatus = "SYNCED"
)

// Valid reports whether s is one of the four known states.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusAdded, StatusUpdated, StatusDeleted, StatusSynced:
		return true
	}

	return false
}

// Pending reports whether the row still has a change the server has not
// accepted.
func (s SyncStatus) Pending() bool {
	return s != StatusSynced
}

// Event is something that happens to a row.
type Event int

const (
	EventCreate Event = iota
	EventUpdate
	EventDelete
	EventPushOK
	EventPushFailed
	EventPulled
)

func (e Event) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	case EventPushOK:
		return "push-ok"
	case EventPushFailed:
		return "push-failed"
	case EventPulled:
		return "pulled"
	}

	return "unknown"
}

// Next returns the status a row in state cur moves to on event ev. ok is
// false when the event is not allowed in cur (editing a tombstone).
//
//	create          -> ADDED
//	update  ADDED   -> ADDED (server has never seen the row)
//	update  SYNCED  -> UPDATED, UPDATED -> UPDATED
//	delete  *       -> DELETED
//	push-ok ADDED|UPDATED -> SYNCED, DELETED stays DELETED (inert)
//	push-failed     -> unchanged
//	pulled          -> SYNCED
func Next(cur SyncStatus, ev Event) (next SyncStatus, ok bool) {
	switch ev {
	case EventCreate:
		return StatusAdded, true
	case EventUpdate:
		switch cur {
		case StatusAdded:
			return StatusAdded, true
		case StatusDeleted:
			return cur, false
		default:
			return StatusUpdated, true
		}
	case EventDelete:
		return StatusDeleted, true
	case EventPushOK:
		if cur == StatusDeleted {
			return StatusDeleted, true
		}

		return StatusSynced, true
	case EventPushFailed:
		return cur, true
	case EventPulled:
		return StatusSynced, true
	}

	return cur, false
}
