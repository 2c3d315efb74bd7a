package models

// VersionedWrite is a conditional account write: it only applies when the
// stored version still equals ExpectedVersion.
type VersionedWrite struct {
	Account         Account
	ExpectedVersion int64
}

// Batch is the unit a LedgerStore commits atomically: every write and every
// entry is applied, or none of them is.
type Batch struct {
	Writes  []VersionedWrite
	Entries []LedgerEntry
}
