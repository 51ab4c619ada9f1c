// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package report

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterbourgon/diskv/v3"
	"github.com/rs/zerolog"
)

// ErrExists is returned when a report with the same name was already written
var ErrExists = errors.New("report already exists")

// SignatureSuffix is appended to a report name for its detached signature
const SignatureSuffix = ".sig"

// Store writes report documents into a flat directory. Writes go through a
// temporary file and a rename, so a report is either complete or absent.
type Store struct {
	dir    string
	diskv  *diskv.Diskv
	signer ed25519.PrivateKey
	log    zerolog.Logger
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithSigningKey signs every report with key
func WithSigningKey(key ed25519.PrivateKey) StoreOption {
	return func(s *Store) {
		s.signer = key
	}
}

func WithLogger(log zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = log
	}
}

// NewStore creates a store rooted at dir
func NewStore(dir string, opts ...StoreOption) *Store {
	flatTransform := func(s string) []string { return []string{} }
	s := &Store{
		dir: dir,
		diskv: diskv.New(diskv.Options{
			BasePath:  dir,
			TempDir:   filepath.Join(dir, ".tmp"),
			Transform: flatTransform,
		}),
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the store root
func (s *Store) Dir() string {
	return s.dir
}

// Save persists r under the name derived from identity and t and returns the
// file path. An existing report is never overwritten.
func (s *Store) Save(identity string, t time.Time, r *Result) (string, error) {
	name := FileName(identity, t)
	if s.diskv.Has(name) {
		return "", fmt.Errorf("%s: %w", name, ErrExists)
	}

	doc, err := r.Encode()
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}

	// The signature goes first so a report on disk is always signed
	if s.signer != nil {
		sig := ed25519.Sign(s.signer, doc)
		if err := s.diskv.Write(name+SignatureSuffix, []byte(hex.EncodeToString(sig)+"\n")); err != nil {
			return "", fmt.Errorf("writing signature for %s: %w", name, err)
		}
	}
	if err := s.diskv.Write(name, doc); err != nil {
		if s.signer != nil {
			if eraseErr := s.diskv.Erase(name + SignatureSuffix); eraseErr != nil {
				s.log.Warn().Err(eraseErr).Str("name", name).Msg("stale signature left behind")
			}
		}
		return "", fmt.Errorf("writing report %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	s.log.Info().Str("path", path).Bool("signed", s.signer != nil).Msg("report written")
	return path, nil
}

// Read returns a stored document
func (s *Store) Read(name string) ([]byte, error) {
	return s.diskv.Read(name)
}

// Reports lists the stored report names, signatures excluded
func (s *Store) Reports() []string {
	var names []string
	cancel := make(chan struct{})
	defer close(cancel)
	for key := range s.diskv.Keys(cancel) {
		if !strings.HasSuffix(key, SignatureSuffix) {
			names = append(names, key)
		}
	}
	return names
}

// Verify checks a stored report against its signature
func Verify(pub ed25519.PublicKey, doc []byte, sigHex string) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, doc, sig)
}

// LoadSigningKey reads a hex encoded ed25519 seed from path
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("signing key %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key %s: want %d byte seed, got %d", path, ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
