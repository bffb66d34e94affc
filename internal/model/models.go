package model

import "time"

// RunRecord is one row of the run index. Every apply run with history
// enabled produces exactly one, whatever its status.
type RunRecord struct {
	RowID        int64
	RunID        string // YYYYMMDDTHHMMSSZ_<8 hex>
	ChangeID     string // 12 hex chars, stable for identical inputs
	ParentRunID  string // empty for the first run of a project
	Status       string
	AppliedAt    time.Time
	Root         string
	FilesChanged int
	ErrorsCount  int
	RunPath      string // run directory relative to the project root
}

// PathChange records what a successful run did to one file.
type PathChange struct {
	Path         string
	RunID        string
	ChangeID     string
	Action       string // ADD, MOD or DEL
	SHA256Before string
	SHA256After  string
	BytesBefore  int64
	BytesAfter   int64
	AppliedAt    time.Time
	Status       string
}
