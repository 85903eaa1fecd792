// Package s3config persists named S3 connection profiles in a JSON settings
// document on disk.
//
// The settings file is the single source of truth and is rewritten wholesale
// under a store-wide lock using a temp-file-then-rename sequence, so a crash
// mid-write never leaves a torn document behind.
package s3config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/filehaven/filehaven/internal/logger"
)

// ErrNotFound is returned when no profile carries the requested id.
var ErrNotFound = errors.New("s3 profile not found")

// Profile is one stored S3 connection profile. SecretAccessKey is redacted
// from listings; only Get returns it.
type Profile struct {
	ID              string `json:"id"`
	Name            string `json:"name"            validate:"required"`
	Region          string `json:"region"          validate:"required"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"accessKeyId"     validate:"required"`
	SecretAccessKey string `json:"secretAccessKey" validate:"required"`
	Bucket          string `json:"bucket"          validate:"required"`
	Prefix          string `json:"prefix,omitempty"`
	IsDefault       bool   `json:"isDefault,omitempty"`
}

// Redacted returns a copy safe for listing responses.
func (p Profile) Redacted() Profile {
	p.SecretAccessKey = ""
	return p
}

// document is the on-disk settings shape.
type document struct {
	S3Configs []Profile `json:"s3Configs"`
}

// Store reads and mutates the settings document.
type Store struct {
	path     string
	mu       sync.Mutex
	validate *validator.Validate
}

// NewStore creates a store over the settings file at path. The file may not
// exist yet; it is created on first write.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		validate: validator.New(),
	}
}

// List returns all profiles with secrets redacted.
func (s *Store) List() ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Profile, len(doc.S3Configs))
	for i, p := range doc.S3Configs {
		out[i] = p.Redacted()
	}
	return out, nil
}

// Get returns the profile with the given id, secret included.
func (s *Store) Get(id string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, p := range doc.S3Configs {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

// Create validates and appends a new profile, assigning its id. When the new
// profile is marked default, the flag is cleared elsewhere.
func (s *Store) Create(p Profile) (*Profile, error) {
	if err := s.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	p.ID = uuid.NewString()
	if p.IsDefault {
		clearDefault(doc.S3Configs)
	}
	doc.S3Configs = append(doc.S3Configs, p)
	if err := s.save(doc); err != nil {
		return nil, err
	}
	logger.Info("s3 profile created", "config_id", p.ID, "name", p.Name)
	return &p, nil
}

// Update replaces the profile with the given id. An empty SecretAccessKey in
// the update keeps the stored secret.
func (s *Store) Update(id string, p Profile) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, existing := range doc.S3Configs {
		if existing.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}

	p.ID = id
	if p.SecretAccessKey == "" {
		p.SecretAccessKey = doc.S3Configs[idx].SecretAccessKey
	}
	if err := s.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	if p.IsDefault {
		clearDefault(doc.S3Configs)
	}
	doc.S3Configs[idx] = p
	if err := s.save(doc); err != nil {
		return nil, err
	}
	logger.Info("s3 profile updated", "config_id", id)
	return &p, nil
}

// Delete removes the profile with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	kept := doc.S3Configs[:0]
	found := false
	for _, p := range doc.S3Configs {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return ErrNotFound
	}
	doc.S3Configs = kept
	if err := s.save(doc); err != nil {
		return err
	}
	logger.Info("s3 profile deleted", "config_id", id)
	return nil
}

func clearDefault(profiles []Profile) {
	for i := range profiles {
		profiles[i].IsDefault = false
	}
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{}, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return &doc, nil
}

func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
