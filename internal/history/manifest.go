package history

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"svpatch/internal/patch"
	"svpatch/internal/pipeline"
)

// ManifestSchemaVersion is written into every manifest.
const ManifestSchemaVersion = 1

// ManifestFileName is the manifest inside a run directory.
const ManifestFileName = "manifest.json"

// Artifact locations relative to the run directory.
const (
	ReportArtifact  = "artifacts/sv-report.json"
	SummaryArtifact = "artifacts/changes-summary.md"
)

// Manifest is the per-run lineage record.
type Manifest struct {
	SchemaVersion int                  `json:"schema_version"`
	RunID         string               `json:"run_id"`
	ChangeID      string               `json:"change_id"`
	ParentRunID   *string              `json:"parent_run_id"`
	Status        patch.Status         `json:"status"`
	Mode          patch.Mode           `json:"mode"`
	StartedAt     string               `json:"started_at"`
	FinishedAt    *string              `json:"finished_at"`
	Root          string               `json:"root"`
	Inputs        ManifestInputs       `json:"inputs"`
	Stats         ManifestStats        `json:"stats"`
	Files         []ManifestFile       `json:"files"`
	Artifacts     *patch.ArtifactPaths `json:"artifacts"`
	Rollback      patch.RollbackRecord `json:"rollback"`
	Errors        []*patch.Failure     `json:"errors"`
	Archive       *ManifestArchive     `json:"archive,omitempty"`
	Pinned        bool                 `json:"pinned"`
}

// ManifestInputs records what the run was asked to do.
type ManifestInputs struct {
	Pipeline string          `json:"pipeline"`
	Steps    []pipeline.Step `json:"steps"`
	Flags    ManifestFlags   `json:"flags"`
	Limits   ManifestLimits  `json:"limits"`
}

type ManifestFlags struct {
	Strict         bool `json:"strict"`
	Backup         bool `json:"backup"`
	RollbackOnFail bool `json:"rollback_on_fail"`
}

type ManifestLimits struct {
	MaxFiles           int      `json:"max_files"`
	MaxTotalWriteBytes int64    `json:"max_total_write_bytes"`
	AllowlistPrefixes  []string `json:"allowlist_prefixes"`
}

type ManifestStats struct {
	FilesChanged int   `json:"files_changed"`
	ErrorsCount  int   `json:"errors_count"`
	BytesWritten int64 `json:"bytes_written"`
	DurationMS   int64 `json:"duration_ms"`
}

// ManifestFile is one changed file. BackupPath and DiffPath are relative to
// the run directory; ArchiveChecksum names the pre-image in the vault.
type ManifestFile struct {
	Path            string  `json:"path"`
	Action          string  `json:"action"`
	IsNew           bool    `json:"is_new"`
	IsDeleted       bool    `json:"is_deleted"`
	SHA256Before    *string `json:"sha256_before"`
	SHA256After     *string `json:"sha256_after"`
	BytesBefore     int64   `json:"bytes_before"`
	BytesAfter      int64   `json:"bytes_after"`
	BackupPath      *string `json:"backup_path"`
	DiffPath        *string `json:"diff_path"`
	ArchiveChecksum string  `json:"archive_checksum,omitempty"`
}

// ManifestArchive says where the run's pre-images were archived.
type ManifestArchive struct {
	ProjectID string `json:"project_id"`
	Encrypted bool   `json:"encrypted"`
}

func bootstrapManifest(runID, changeID, parent string, info patch.RunInfo) *Manifest {
	return &Manifest{
		SchemaVersion: ManifestSchemaVersion,
		RunID:         runID,
		ChangeID:      changeID,
		ParentRunID:   optional(parent),
		Status:        patch.StatusRunning,
		Mode:          patch.ModeApply,
		StartedAt:     isoTime(info.StartedAt),
		Root:          info.Root,
		Inputs: ManifestInputs{
			Pipeline: info.PipelineRef,
			Steps:    info.Pipeline.Steps,
			Flags: ManifestFlags{
				Strict:         info.Strict,
				Backup:         info.Backup,
				RollbackOnFail: info.RollbackOnFail,
			},
			Limits: ManifestLimits{
				MaxFiles:           info.Limits.MaxFiles,
				MaxTotalWriteBytes: info.Limits.MaxTotalWriteBytes,
				AllowlistPrefixes:  info.Allow,
			},
		},
		Files:    []ManifestFile{},
		Rollback: patch.RollbackRecord{FilesRestored: []string{}, FilesRemoved: []string{}},
		Errors:   []*patch.Failure{},
	}
}

// sortFiles orders manifest files by path.
func (m *Manifest) sortFiles() {
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
}

// ReadManifest loads a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeManifest(data)
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.SchemaVersion != ManifestSchemaVersion {
		return nil, fmt.Errorf("unsupported manifest schema version %d", m.SchemaVersion)
	}
	return &m, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
