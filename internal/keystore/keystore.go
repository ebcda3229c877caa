// Package keystore persists KeyBinding and WorkspaceRecord data as a single
// JSON document, per spec §4.2.
package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/theykk/agentman-gateway/internal/gwerrors"
)

// KeyBinding records that fingerprint has been verified to belong to an
// identity.
type KeyBinding struct {
	Identity   string    `json:"github_username"`
	KeyType    string    `json:"key_type"`
	VerifiedAt time.Time `json:"verified_at"`
}

// WorkspaceRecord is the persisted record of a provisioned workspace.
type WorkspaceRecord struct {
	Identity      string  `json:"github_user"`
	Project       string  `json:"project"`
	ContainerName string  `json:"container_name"`
	ContainerID   *string `json:"container_id,omitempty"`
	HostPath      string  `json:"host_workspace_path"`
	CreatedAt     time.Time `json:"created_at"`
}

type document struct {
	KeyToIdentity map[string]KeyBinding      `json:"key_to_github"`
	Workspaces    map[string]WorkspaceRecord `json:"workspaces"`
}

func newDocument() *document {
	return &document{
		KeyToIdentity: make(map[string]KeyBinding),
		Workspaces:    make(map[string]WorkspaceRecord),
	}
}

func workspaceKey(identity, project string) string {
	return identity + "/" + project
}

// Store is the single-writer, concurrent-reader persisted state document.
type Store struct {
	mu   sync.RWMutex
	doc  *document
	path string
}

// Open loads the document at path, or starts with an empty one if the file
// does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: newDocument()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if doc.KeyToIdentity == nil {
		doc.KeyToIdentity = make(map[string]KeyBinding)
	}
	if doc.Workspaces == nil {
		doc.Workspaces = make(map[string]WorkspaceRecord)
	}
	s.doc = doc
	return s, nil
}

// save re-serializes the entire document and writes it via a temp file plus
// rename, so that a reader never observes a partial write. Caller must hold
// the write lock.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp state file into place: %w", err)
	}
	return nil
}

// LookupByFingerprint returns the KeyBinding for fingerprint, if any.
func (s *Store) LookupByFingerprint(fingerprint string) (KeyBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.doc.KeyToIdentity[fingerprint]
	return b, ok
}

// Bind records that fingerprint belongs to identity, persisting immediately.
func (s *Store) Bind(fingerprint string, binding KeyBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.KeyToIdentity[fingerprint] = binding
	return s.save()
}

// BindMany records bindings for every fingerprint not already bound, in a
// single document rewrite. Used by the batch-cache property (spec §4.6).
func (s *Store) BindMany(fingerprints []string, identity, keyType string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, fp := range fingerprints {
		if _, ok := s.doc.KeyToIdentity[fp]; ok {
			continue
		}
		s.doc.KeyToIdentity[fp] = KeyBinding{Identity: identity, KeyType: keyType, VerifiedAt: now}
		changed = true
	}
	if !changed {
		return nil
	}
	return s.save()
}

// GetWorkspace returns the WorkspaceRecord for (identity, project), if any.
func (s *Store) GetWorkspace(identity, project string) (WorkspaceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.doc.Workspaces[workspaceKey(identity, project)]
	return r, ok
}

// SetWorkspace upserts a WorkspaceRecord, persisting immediately.
func (s *Store) SetWorkspace(record WorkspaceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Workspaces[workspaceKey(record.Identity, record.Project)] = record
	return s.save()
}

// RemoveWorkspace deletes the WorkspaceRecord for (identity, project),
// returning the removed record (if any present) and whether it was removed.
func (s *Store) RemoveWorkspace(identity, project string) (WorkspaceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workspaceKey(identity, project)
	rec, ok := s.doc.Workspaces[key]
	if !ok {
		return WorkspaceRecord{}, false, nil
	}
	delete(s.doc.Workspaces, key)
	if err := s.save(); err != nil {
		return WorkspaceRecord{}, false, err
	}
	return rec, true, nil
}

// ListWorkspaces returns every WorkspaceRecord belonging to identity.
func (s *Store) ListWorkspaces(identity string) []WorkspaceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []WorkspaceRecord
	for _, r := range s.doc.Workspaces {
		if r.Identity == identity {
			out = append(out, r)
		}
	}
	return out
}

// AllWorkspaces returns every WorkspaceRecord on file, across all
// identities, for reconcile's orphan sweep.
func (s *Store) AllWorkspaces() []WorkspaceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorkspaceRecord, 0, len(s.doc.Workspaces))
	for _, r := range s.doc.Workspaces {
		out = append(out, r)
	}
	return out
}

// ListIdentities returns the distinct set of identities with at least one
// workspace record.
func (s *Store) ListIdentities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, r := range s.doc.Workspaces {
		if _, ok := seen[r.Identity]; !ok {
			seen[r.Identity] = struct{}{}
			out = append(out, r.Identity)
		}
	}
	return out
}

// UpdateContainerID sets the container id on an existing WorkspaceRecord.
func (s *Store) UpdateContainerID(identity, project, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workspaceKey(identity, project)
	rec, ok := s.doc.Workspaces[key]
	if !ok {
		return gwerrors.NotFound("workspace %s not found", key)
	}
	rec.ContainerID = &containerID
	s.doc.Workspaces[key] = rec
	return s.save()
}
