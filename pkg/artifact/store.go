// Package artifact stages candidate agent artifacts on local disk.
//
// Artifacts live under {state_dir}/platform_agents/{sha256_hex}/agent.so
// with a sibling agent.sha256 text file. Content is addressed by its hash:
// identical artifacts across batches stage once, and a hash directory that
// contains agent.so is complete (the sibling is written first, the rename
// into place is last).
package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"debug/elf"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caster-net/caster/pkg/models"
)

const (
	stagingDirName = "platform_agents"
	agentFileName  = "agent.so"
	hashFileName   = "agent.sha256"
)

// VerificationError reports a fetched artifact whose content hash does not
// match the hash the batch declared for it.
type VerificationError struct {
	ArtifactID string
	Declared   string
	Computed   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("artifact %s failed verification: declared sha256 %s, computed %s",
		e.ArtifactID, e.Declared, e.Computed)
}

// Fetcher retrieves artifact bytes from the platform.
type Fetcher interface {
	FetchArtifact(ctx context.Context, artifactID string) ([]byte, error)
}

// Store stages artifacts for the scheduler and answers where a candidate's
// agent lives on disk.
type Store struct {
	root    string
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a store rooted at {stateDir}/platform_agents.
func NewStore(stateDir string, fetcher Fetcher, logger *slog.Logger) *Store {
	return &Store{
		root:    filepath.Join(stateDir, stagingDirName),
		fetcher: fetcher,
		logger:  logger.With("component", "artifact_store"),
		now:     time.Now,
	}
}

// Path returns where the artifact with the given content hash is staged.
func (s *Store) Path(sha256Hex string) string {
	return filepath.Join(s.root, sha256Hex, agentFileName)
}

// Stage returns the local path of the candidate's agent, fetching and
// verifying it first when it is not already staged.
//
// Flow:
//  1. Validate the declared hash (it becomes a path segment).
//  2. Dedupe: an existing agent.so for the hash is reused as-is.
//  3. Fetch the artifact bytes from the platform.
//  4. Verify the declared size and sha-256 against the fetched content.
//  5. Reject content that does not parse as an ELF object.
//  6. Write the sibling hash file, then the artifact via temp file + rename.
func (s *Store) Stage(ctx context.Context, candidate models.Candidate) (string, error) {
	declared, err := normalizeHash(candidate.SHA256)
	if err != nil {
		return "", fmt.Errorf("artifact %s: %w", candidate.ArtifactID, err)
	}

	hashDir := filepath.Join(s.root, declared)
	agentPath := filepath.Join(hashDir, agentFileName)
	if _, err := os.Stat(agentPath); err == nil {
		// Retention prunes by last use, so a dedupe hit refreshes the clock.
		now := s.now()
		_ = os.Chtimes(agentPath, now, now)
		s.logger.Debug("Artifact already staged", "artifact_id", candidate.ArtifactID, "sha256", declared)
		return agentPath, nil
	}

	data, err := s.fetcher.FetchArtifact(ctx, candidate.ArtifactID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch artifact %s: %w", candidate.ArtifactID, err)
	}

	if candidate.Size > 0 && int64(len(data)) != candidate.Size {
		return "", fmt.Errorf("artifact %s size mismatch: declared %d bytes, got %d",
			candidate.ArtifactID, candidate.Size, len(data))
	}
	computed := sha256.Sum256(data)
	if computedHex := hex.EncodeToString(computed[:]); computedHex != declared {
		return "", &VerificationError{
			ArtifactID: candidate.ArtifactID,
			Declared:   declared,
			Computed:   computedHex,
		}
	}

	if _, err := elf.NewFile(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("artifact %s is not a loadable agent object: %w", candidate.ArtifactID, err)
	}

	if err := s.write(hashDir, agentPath, declared, data); err != nil {
		return "", fmt.Errorf("failed to stage artifact %s: %w", candidate.ArtifactID, err)
	}

	s.logger.Info("Artifact staged",
		"artifact_id", candidate.ArtifactID, "sha256", declared, "bytes", len(data))
	return agentPath, nil
}

// write stages the verified content. The hash sibling goes first and the
// artifact is renamed into place last, so agent.so existing means the hash
// directory is complete.
func (s *Store) write(hashDir, agentPath, declared string, data []byte) error {
	if err := os.MkdirAll(hashDir, 0o755); err != nil {
		return fmt.Errorf("failed to create hash directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(hashDir, hashFileName), []byte(declared+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write hash file: %w", err)
	}

	tmp, err := os.CreateTemp(hashDir, ".agent-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	// The worker process in the container runs unprivileged and needs read
	// access through the read-only bind mount.
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set artifact mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, agentPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// PruneOlderThan removes staged artifacts last used before the cutoff and
// returns how many went away. Directories without an agent.so are leftovers
// from interrupted stagings and are removed regardless of age.
func (s *Store) PruneOlderThan(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}

	pruned := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		hashDir := filepath.Join(s.root, entry.Name())
		info, err := os.Stat(filepath.Join(hashDir, agentFileName))
		if err == nil && !info.ModTime().Before(cutoff) {
			continue
		}
		if err != nil && !os.IsNotExist(err) {
			return pruned, fmt.Errorf("failed to stat staged artifact %s: %w", entry.Name(), err)
		}
		if err := os.RemoveAll(hashDir); err != nil {
			return pruned, fmt.Errorf("failed to remove staged artifact %s: %w", entry.Name(), err)
		}
		s.logger.Info("Staged artifact pruned", "sha256", entry.Name())
		pruned++
	}
	return pruned, nil
}

// normalizeHash lowercases and validates a declared sha-256 hex string. The
// hash becomes a directory name, so anything that does not decode to 32 hex
// bytes is rejected before touching the filesystem.
func normalizeHash(declared string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(declared))
	raw, err := hex.DecodeString(normalized)
	if err != nil {
		return "", fmt.Errorf("declared hash is not hex: %w", err)
	}
	if len(raw) != sha256.Size {
		return "", fmt.Errorf("declared hash has %d bytes, want %d", len(raw), sha256.Size)
	}
	return normalized, nil
}
