package patch

import (
	"context"
	"fmt"

	"svpatch/internal/staging"
)

// committed is one journal entry: a file the commit engine has already touched.
type committed struct {
	path       string
	original   []byte // raw pre-image, nil when the file did not exist
	existed    bool
	backupPath string
}

// committer writes a finalized diff to disk, one file at a time, in sorted order.
type committer struct {
	disk    Filesystem
	journal Journal
	logger  Logger
	entries []committed
}

// backupAll snapshots the pre-image of every file about to be modified or
// deleted. It runs before the first write, so a failure here has no disk effect.
func (c *committer) backupAll(changes []*staging.Change) (map[string]string, *Failure) {
	paths := make(map[string]string)
	if c.journal == nil {
		return paths, nil
	}
	for _, ch := range changes {
		if ch.IsNew() || ch.Original == nil {
			continue
		}
		bp, err := c.journal.Backup(ch.Path, ch.Original)
		if err != nil {
			f := failf(ErrBackup, "backing up %s: %v", ch.Path, err)
			f.File = ch.Path
			return nil, f
		}
		paths[ch.Path] = bp
	}
	return paths, nil
}

// commit applies changes. It stops at the first failure and returns it;
// everything written before that point is in c.entries.
func (c *committer) commit(ctx context.Context, changes []*staging.Change, backups map[string]string) *Failure {
	if err := ctx.Err(); err != nil {
		return failf(ErrCancelled, "cancelled before commit: %v", err)
	}
	for _, ch := range changes {
		if f := c.commitOne(ch, backups[ch.Path]); f != nil {
			f.File = ch.Path
			return f
		}
	}
	return nil
}

func (c *committer) commitOne(ch *staging.Change, backupPath string) *Failure {
	if err := staging.VerifyUnchanged(c.disk, ch); err != nil {
		return failf(ErrCommit, "refusing to overwrite: %v", err)
	}

	entry := committed{path: ch.Path, original: ch.Original, existed: ch.Original != nil, backupPath: backupPath}
	var err error
	if ch.IsDeleted() {
		err = c.disk.Remove(ch.Path)
	} else {
		err = c.disk.WriteFile(ch.Path, []byte(ch.Content))
	}
	if err != nil {
		return failf(ErrCommit, "committing %s: %v", ch.Path, err)
	}
	c.entries = append(c.entries, entry)
	c.logger.Debug("file committed", "path", ch.Path, "action", string(ch.Action))
	return nil
}

// committedPaths lists journaled paths in commit order.
func (c *committer) committedPaths() []string {
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.path)
	}
	return out
}

// rollback undoes every journaled write in reverse commit order. Files that
// existed are restored from their backup when one was taken, otherwise from
// the in-memory pre-image; files the run created are removed.
func (c *committer) rollback() RollbackRecord {
	rb := RollbackRecord{Attempted: true, FilesRestored: []string{}, FilesRemoved: []string{}}
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if !e.existed {
			if err := c.disk.Remove(e.path); err != nil {
				rb.Errors = append(rb.Errors, fmt.Sprintf("removing %s: %v", e.path, err))
				continue
			}
			rb.FilesRemoved = append(rb.FilesRemoved, e.path)
			continue
		}

		data := e.original
		if e.backupPath != "" && c.journal != nil {
			raw, err := c.journal.ReadBackup(e.backupPath)
			if err != nil {
				rb.Errors = append(rb.Errors, fmt.Sprintf("reading backup of %s: %v", e.path, err))
				continue
			}
			data = raw
		}
		if err := c.disk.WriteFile(e.path, data); err != nil {
			rb.Errors = append(rb.Errors, fmt.Sprintf("restoring %s: %v", e.path, err))
			continue
		}
		rb.FilesRestored = append(rb.FilesRestored, e.path)
	}
	if len(rb.Errors) > 0 {
		c.logger.Error("rollback incomplete", "errors", len(rb.Errors))
	} else {
		c.logger.Info("rollback complete", "restored", len(rb.FilesRestored), "removed", len(rb.FilesRemoved))
	}
	return rb
}
