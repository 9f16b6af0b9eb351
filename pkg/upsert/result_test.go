package upsert

import (
	"errors"
	"testing"
)

func TestResultVerify(t *testing.T) {
	tests := []struct {
		name       string
		res        Result
		updateOnly bool
		wantErr    bool
	}{
		{"all reconciled", Result{Copied: 3, Updated: 1, Inserted: 2}, false, false},
		{"nothing staged", Result{}, false, false},
		{"null keys skipped", Result{Copied: 3, Updated: 1, Inserted: 1, Skipped: 1}, false, false},
		{"duplicate key in batch", Result{Copied: 2, Updated: 1}, false, true},
		{"over-matched", Result{Copied: 1, Updated: 2}, false, true},
		{"update only", Result{Copied: 5, Updated: 2}, true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.res.verify(tc.updateOnly)
			if tc.wantErr {
				if !errors.Is(err, ErrKeyNotUnique) {
					t.Fatalf("verify = %v, want ErrKeyNotUnique", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
		})
	}
}

func TestResultChanged(t *testing.T) {
	if got := (Result{Updated: 2, Inserted: 3}).Changed(); got != 5 {
		t.Fatalf("Changed() = %d, want 5", got)
	}
}
