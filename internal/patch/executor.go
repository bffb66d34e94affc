package patch

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"svpatch/internal/script"
	"svpatch/internal/staging"
)

const (
	defaultScanMax     = 20
	defaultScanContext = 2
)

// execution is the state of one invocation, threaded from parsing through
// commit and report. It is never shared between runs.
type execution struct {
	req       *Request
	area      *staging.Area
	validator *Validator
	clock     Clock
	logger    Logger
	timeout   time.Duration
	rep       *Report
}

// opContext locates a command for error reporting.
type opContext struct {
	step   string
	script string
	rec    *ScriptRecord
	op     script.Operation
}

// fail stamps a failure with where it happened and records it on the script and the run.
func (x *execution) fail(oc *opContext, file string, f *Failure) *Failure {
	f.Step = oc.step
	f.Script = oc.script
	f.File = file
	f.Line = oc.op.Line
	f.Op = oc.op.Kind.String()
	f.Raw = oc.op.Raw
	oc.rec.Errors = append(oc.rec.Errors, f)
	x.rep.Errors = append(x.rep.Errors, f)
	return f
}

// runOps executes a parsed script in source order and stops at the first failure.
func (x *execution) runOps(oc *opContext, ops []script.Operation) *Failure {
	for _, op := range ops {
		oc.op = op
		if f := x.execute(oc); f != nil {
			return f
		}
	}
	return nil
}

// execute validates and applies one operation.
func (x *execution) execute(oc *opContext) *Failure {
	op := oc.op
	path, f := x.validator.Normalize(op.Path)
	if f != nil {
		return x.fail(oc, path, f)
	}

	fr := oc.rec.file(path)
	rec := OpRecord{Line: op.Line, Op: op.Kind.String()}
	defer func() { fr.Ops = append(fr.Ops, rec) }()

	isDir, err := x.area.IsDir(path)
	if err != nil {
		return x.fail(oc, path, ioFailure(err))
	}
	var (
		text   string
		exists bool
	)
	if !isDir {
		text, exists, err = x.area.Read(path)
		if err != nil {
			return x.fail(oc, path, ioFailure(err))
		}
	}

	b := newBudget(x.clock, x.timeout)
	allowNoop := op.Bool("ALLOW_NOOP")

	switch op.Kind {
	case script.AssertFileExists:
		if !exists && !isDir {
			return x.fail(oc, path, failf(ErrAssertFileExists, "expected %s to exist", path))
		}
		return nil

	case script.AssertFileNotExists:
		if exists || isDir {
			return x.fail(oc, path, failf(ErrAssertFileNotExists, "expected %s to be absent", path))
		}
		return nil

	case script.AssertRegex:
		if f := requireFile(path, isDir, exists); f != nil {
			return x.fail(oc, path, f)
		}
		re, f := compilePattern(op.Arg(0))
		if f != nil {
			return x.fail(oc, path, f)
		}
		m, f := b.findFirst(re, text)
		if f != nil {
			return x.fail(oc, path, f)
		}
		if m == nil {
			return x.fail(oc, path, failf(ErrAssertRegex, "pattern %q not found", strings.TrimSpace(op.Arg(0))))
		}
		return nil

	case script.AssertNotRegex:
		if isDir {
			return x.fail(oc, path, failf(ErrDirectoryNotSupported, "%s is a directory", path))
		}
		if !exists {
			return nil
		}
		re, f := compilePattern(op.Arg(0))
		if f != nil {
			return x.fail(oc, path, f)
		}
		m, f := b.findFirst(re, text)
		if f != nil {
			return x.fail(oc, path, f)
		}
		if m != nil {
			return x.fail(oc, path, failf(ErrAssertNotRegex, "pattern %q unexpectedly found", strings.TrimSpace(op.Arg(0))))
		}
		return nil

	case script.AssertRegexCount:
		if f := requireFile(path, isDir, exists); f != nil {
			return x.fail(oc, path, f)
		}
		re, f := compilePattern(op.Arg(0))
		if f != nil {
			return x.fail(oc, path, f)
		}
		expected, _ := strconv.Atoi(strings.TrimSpace(op.Arg(1)))
		matches, f := b.findAll(re, text, -1)
		if f != nil {
			return x.fail(oc, path, f)
		}
		found := len(matches)
		rec.Found = &found
		if found != expected {
			fl := failf(ErrAssertRegexCount, "expected %d matches, found %d", expected, found)
			fl.Limit, fl.Found = int64(expected), int64(found)
			return x.fail(oc, path, fl)
		}
		return nil

	case script.ScanFile:
		if f := requireFile(path, isDir, exists); f != nil {
			return x.fail(oc, path, f)
		}
		re, f := compilePattern(op.Arg(0))
		if f != nil {
			return x.fail(oc, path, f)
		}
		maxHits := op.Int("MAX", defaultScanMax)
		context := op.Int("CONTEXT", defaultScanContext)
		if context < 0 {
			context = 0
		}
		hits, f := b.scan(re, text, maxHits, context)
		if f != nil {
			return x.fail(oc, path, f)
		}
		n := len(hits)
		rec.Hits = &n
		x.rep.Scans = append(x.rep.Scans, ScanRecord{
			File:    path,
			Line:    op.Line,
			Regex:   strings.TrimSpace(op.Arg(0)),
			Max:     maxHits,
			Context: context,
			Hits:    hits,
		})
		return nil

	case script.CreateFile:
		if isDir {
			return x.fail(oc, path, failf(ErrDirectoryNotSupported, "%s is a directory", path))
		}
		if exists {
			// Create-if-absent: an existing file is never a strict failure.
			return nil
		}
		return x.stage(oc, fr, &rec, path, op.Arg(0), allowNoop)

	case script.WriteFile:
		if f := requireFile(path, isDir, exists); f != nil {
			return x.fail(oc, path, f)
		}
		return x.stage(oc, fr, &rec, path, op.Arg(0), allowNoop)

	case script.UpsertFile:
		if isDir {
			return x.fail(oc, path, failf(ErrDirectoryNotSupported, "%s is a directory", path))
		}
		return x.stage(oc, fr, &rec, path, op.Arg(0), allowNoop)

	case script.InsertBeforeRegex, script.InsertAfterRegex:
		if f := requireFile(path, isDir, exists); f != nil {
			return x.fail(oc, path, f)
		}
		re, f := compilePattern(op.Arg(0))
		if f != nil {
			return x.fail(oc, path, f)
		}
		m, f := b.findFirst(re, text)
		if f != nil {
			return x.fail(oc, path, f)
		}
		next := text
		if m != nil {
			if op.Kind == script.InsertBeforeRegex {
				next = text[:m[0]] + op.Arg(1) + "\n" + text[m[0]:]
			} else {
				next = text[:m[1]] + "\n" + op.Arg(1) + text[m[1]:]
			}
		}
		return x.stage(oc, fr, &rec, path, next, allowNoop)

	case script.ReplaceRegex, script.ReplaceRegexFirst, script.DeleteRegex:
		if f := requireFile(path, isDir, exists); f != nil {
			return x.fail(oc, path, f)
		}
		re, f := compilePattern(op.Arg(0))
		if f != nil {
			return x.fail(oc, path, f)
		}
		repl := ""
		if op.Kind != script.DeleteRegex {
			repl = op.Arg(1)
		}
		tmpl, f := parseTemplate(repl, re)
		if f != nil {
			return x.fail(oc, path, f)
		}
		n := -1
		if op.Kind == script.ReplaceRegexFirst {
			n = 1
		}
		next, _, f := b.replace(re, text, tmpl, n)
		if f != nil {
			return x.fail(oc, path, f)
		}
		return x.stage(oc, fr, &rec, path, next, allowNoop)

	case script.ReplaceBlock:
		if f := requireFile(path, isDir, exists); f != nil {
			return x.fail(oc, path, f)
		}
		next, f := replaceBlock(b, text, op.Arg(0), op.Arg(1), op.Arg(2))
		if f != nil {
			return x.fail(oc, path, f)
		}
		return x.stage(oc, fr, &rec, path, next, allowNoop)

	case script.DeleteFile:
		if isDir {
			return x.fail(oc, path, failf(ErrDirectoryNotSupported, "%s is a directory", path))
		}
		existed, err := x.area.Delete(path)
		if err != nil {
			return x.fail(oc, path, ioFailure(err))
		}
		if existed {
			rec.Changed = true
			fr.Changed = true
			return nil
		}
		return x.strictNoop(oc, path, allowNoop)

	case script.MoveFile, script.CopyFile:
		return x.transfer(oc, fr, &rec, path, text, exists, isDir, allowNoop)
	}

	return x.fail(oc, path, failf(ErrParse, "unsupported operator %s", op.Kind))
}

// stage writes next as the content of path and applies the no-op policy.
func (x *execution) stage(oc *opContext, fr *FileRecord, rec *OpRecord, path, next string, allowNoop bool) *Failure {
	current, exists, err := x.area.Read(path)
	if err != nil {
		return x.fail(oc, path, ioFailure(err))
	}
	if exists && current == next {
		return x.strictNoop(oc, path, allowNoop)
	}
	if _, err := x.area.Write(path, next); err != nil {
		return x.fail(oc, path, ioFailure(err))
	}
	rec.Changed = true
	fr.Changed = true
	return nil
}

// strictNoop fails a mutation that changed nothing when strict mode demands a change.
func (x *execution) strictNoop(oc *opContext, path string, allowNoop bool) *Failure {
	if x.req.Strict && !allowNoop {
		return x.fail(oc, path, failf(ErrStrictNoop, "%s made no change", oc.op.Kind))
	}
	return nil
}

// transfer implements MOVE_FILE and COPY_FILE.
func (x *execution) transfer(oc *opContext, fr *FileRecord, rec *OpRecord, src, text string, exists, isDir, allowNoop bool) *Failure {
	op := oc.op
	dst, f := x.validator.Normalize(op.Arg(0))
	if f != nil {
		return x.fail(oc, dst, f)
	}
	rec.To = dst

	// Self-targeting is always a no-op, never a strict failure.
	if dst == src {
		return nil
	}
	if isDir {
		return x.fail(oc, src, failf(ErrDirectoryNotSupported, "%s is a directory", src))
	}
	if !exists {
		if allowNoop {
			return nil
		}
		return x.fail(oc, src, failf(ErrFileNotFound, "%s does not exist", src))
	}

	dstDir, err := x.area.IsDir(dst)
	if err != nil {
		return x.fail(oc, dst, ioFailure(err))
	}
	if dstDir {
		return x.fail(oc, dst, failf(ErrDestinationIsDir, "%s is a directory", dst))
	}
	dstText, dstExists, err := x.area.Read(dst)
	if err != nil {
		return x.fail(oc, dst, ioFailure(err))
	}
	if dstExists && !op.Bool("OVERWRITE") {
		return x.fail(oc, dst, failf(ErrDestinationExists, "%s already exists (set OVERWRITE=1)", dst))
	}

	changed := false
	if !dstExists || dstText != text {
		if _, err := x.area.Write(dst, text); err != nil {
			return x.fail(oc, dst, ioFailure(err))
		}
		changed = true
	}
	dfr := oc.rec.file(dst)
	dfr.Ops = append(dfr.Ops, OpRecord{Line: op.Line, Op: op.Kind.String(), Changed: changed, From: src})
	if changed {
		dfr.Changed = true
	}

	if op.Kind == script.MoveFile {
		removed, err := x.area.Delete(src)
		if err != nil {
			return x.fail(oc, src, ioFailure(err))
		}
		if removed {
			fr.Changed = true
			changed = true
		}
	}

	if !changed {
		return x.strictNoop(oc, src, allowNoop)
	}
	rec.Changed = true
	return nil
}

// replaceBlock replaces the span from the first start match through the first
// end match that follows it. The end pattern is evaluated on the text after
// the start match, so its anchors see that suffix.
func replaceBlock(b *budget, text, startPattern, endPattern, block string) (string, *Failure) {
	startRe, f := compilePattern(startPattern)
	if f != nil {
		return text, f
	}
	endRe, f := compilePattern(endPattern)
	if f != nil {
		return text, f
	}
	m1, f := b.findFirst(startRe, text)
	if f != nil || m1 == nil {
		return text, f
	}
	m2, f := b.findFirst(endRe, text[m1[1]:])
	if f != nil || m2 == nil {
		return text, f
	}
	return text[:m1[0]] + block + text[m1[1]+m2[1]:], nil
}

// requireFile is the common precondition of text operations.
func requireFile(path string, isDir, exists bool) *Failure {
	if isDir {
		return failf(ErrDirectoryNotSupported, "%s is a directory", path)
	}
	if !exists {
		return failf(ErrFileNotFound, "%s does not exist", path)
	}
	return nil
}

// ioFailure classifies an error from the staging layer.
func ioFailure(err error) *Failure {
	if errors.Is(err, staging.ErrIsDirectory) {
		return failf(ErrDirectoryNotSupported, "%v", err)
	}
	return failf(ErrFileNotFound, "%v", err)
}
