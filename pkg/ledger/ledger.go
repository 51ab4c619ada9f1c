// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ledger looks up prior controller test records in a CSV file kept
// in a synced repository.
package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no record exists for a uid, even after a refresh
var ErrNotFound = errors.New("no test record found")

// Refresher brings the ledger up to date
type Refresher interface {
	Refresh(ctx context.Context) error
}

// GitPull refreshes a ledger stored in a git work tree
type GitPull struct {
	Dir string
}

func (g GitPull) Refresh(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "pull")
	cmd.Dir = g.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git pull in %s: %w: %s", g.Dir, err, bytes.TrimSpace(out.Bytes()))
	}
	return nil
}

// Ledger is a CSV file whose first column is the controller uid
type Ledger struct {
	path      string
	refresher Refresher
	log       zerolog.Logger
}

// New creates a ledger reading path; refresher may be nil
func New(path string, refresher Refresher, log zerolog.Logger) *Ledger {
	return &Ledger{path: path, refresher: refresher, log: log}
}

// Contains reports whether a record for uid exists
func (l *Ledger) Contains(uid string) (bool, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("reading %s: %w", l.path, err)
		}
		if len(row) > 0 && row[0] == uid {
			return true, nil
		}
	}
}

// Require checks for a record, refreshing once if it is missing
func (l *Ledger) Require(ctx context.Context, uid string) error {
	found, err := l.Contains(uid)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	if l.refresher == nil {
		return fmt.Errorf("%s: %w", uid, ErrNotFound)
	}

	l.log.Info().Str("uid", uid).Msg("no test record, refreshing ledger")
	if err := l.refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("refreshing ledger: %w", err)
	}

	found, err = l.Contains(uid)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", uid, ErrNotFound)
	}
	return nil
}
