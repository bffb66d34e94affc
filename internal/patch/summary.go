package patch

import (
	"fmt"
	"strings"
)

// SummaryFileName is the markdown summary written next to the report.
const SummaryFileName = "changes-summary.md"

// RenderSummary renders the human-readable markdown view of a report.
func RenderSummary(rep *Report) string {
	var md []string
	md = append(md,
		"# Safe-Vibe Patch Summary",
		"",
		fmt.Sprintf("- Root: `%s`", rep.Root),
		fmt.Sprintf("- Plan only: `%t`", rep.PlanOnly),
		fmt.Sprintf("- Strict: `%t`", rep.Strict),
		fmt.Sprintf("- Backup: `%t`", rep.Backup),
		fmt.Sprintf("- Rollback on fail: `%t`", rep.RollbackOnFail),
		fmt.Sprintf("- Duration (ms): `%d`", rep.DurationMS),
	)
	if rep.History.Enabled {
		md = append(md, fmt.Sprintf("- Run: `%s` (change `%s`)", rep.History.RunID, rep.History.ChangeID))
	}

	status := StatusOK
	if rep.Failed() {
		status = StatusFailed
	}
	md = append(md, "", fmt.Sprintf("## Status: %s", status))

	if rep.Failed() {
		md = append(md, "", "## Errors", "")
		for _, e := range rep.Errors {
			md = append(md, fmt.Sprintf("- `%s`: %s (%s) %s", e.Kind, e.File, e.Step, e.Message))
		}
	}

	if rep.Rollback.Attempted {
		md = append(md, "", "## Rollback", "",
			fmt.Sprintf("- Restored: %d", len(rep.Rollback.FilesRestored)),
			fmt.Sprintf("- Removed: %d", len(rep.Rollback.FilesRemoved)),
		)
		for _, e := range rep.Rollback.Errors {
			md = append(md, fmt.Sprintf("- Error: %s", e))
		}
	}

	md = append(md, "", "## Diffs", "")
	found := false
	for _, c := range rep.Changes {
		if c.Diff == "" {
			continue
		}
		found = true
		suffix := ""
		switch {
		case c.IsDeleted:
			suffix = "(DEL)"
		case c.IsNew:
			suffix = "(NEW)"
		}
		md = append(md,
			strings.TrimRight(fmt.Sprintf("### %s %s", c.Path, suffix), " "),
			"",
			"```diff",
			strings.TrimRight(c.Diff, "\n"),
			"```",
			"",
		)
	}
	if !found {
		md = append(md, "No changes to display.")
	}
	return strings.TrimRight(strings.Join(md, "\n"), "\n") + "\n"
}
