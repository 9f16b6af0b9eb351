package upsert

import "fmt"

// Result summarizes one Write.
type Result struct {
	// Copied is the number of rows streamed into the staging table.
	Copied int64
	// Updated is the number of destination rows changed by the UPDATE pass.
	Updated int64
	// Inserted is the number of rows created by the INSERT pass.
	Inserted int64
	// Skipped is the number of staged rows whose key had a NULL component.
	// Such rows are reconciled by neither pass.
	Skipped int64
}

// Changed returns Inserted + Updated.
func (r Result) Changed() int64 { return r.Inserted + r.Updated }

// verify checks that every staged row with a usable key was reconciled
// exactly once. A mismatch means the key matched more than one staged row to
// the same destination row (or several destination rows to one staged row).
func (r Result) verify(updateOnly bool) error {
	expected := r.Copied - r.Skipped
	if updateOnly {
		expected = r.Updated
	}
	if r.Changed() == expected {
		return nil
	}
	return fmt.Errorf(
		"%w: %d rows staged, %d skipped, but %d rows changed (%d updated, %d inserted). Check to make sure your key is unique",
		ErrKeyNotUnique, r.Copied, r.Skipped, r.Changed(), r.Updated, r.Inserted,
	)
}
