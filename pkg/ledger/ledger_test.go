// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls  int
	append string
	path   string
	err    error
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(f.append)
	return err
}

func writeLedger(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "full_test_log.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestContains(t *testing.T) {
	path := writeLedger(t, "Xa1,2021-09-01,passed\n\nYb2,2021-09-02\n")
	l := New(path, nil, zerolog.Nop())

	for uid, want := range map[string]bool{"Xa1": true, "Yb2": true, "2021-09-01": false, "Zc3": false} {
		got, err := l.Contains(uid)
		require.NoError(t, err)
		assert.Equal(t, want, got, uid)
	}
}

func TestRequire_PresentSkipsRefresh(t *testing.T) {
	path := writeLedger(t, "Xa1,ok\n")
	ref := &fakeRefresher{path: path}
	l := New(path, ref, zerolog.Nop())

	require.NoError(t, l.Require(context.Background(), "Xa1"))
	assert.Equal(t, 0, ref.calls)
}

func TestRequire_RefreshFindsRecord(t *testing.T) {
	path := writeLedger(t, "Xa1,ok\n")
	ref := &fakeRefresher{path: path, append: "Yb2,ok\n"}
	l := New(path, ref, zerolog.Nop())

	require.NoError(t, l.Require(context.Background(), "Yb2"))
	assert.Equal(t, 1, ref.calls)
}

func TestRequire_StillMissing(t *testing.T) {
	path := writeLedger(t, "Xa1,ok\n")
	ref := &fakeRefresher{path: path, append: "Zc3,ok\n"}
	l := New(path, ref, zerolog.Nop())

	err := l.Require(context.Background(), "Yb2")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, ref.calls)
}

func TestRequire_RefreshError(t *testing.T) {
	path := writeLedger(t, "")
	boom := errors.New("network down")
	l := New(path, &fakeRefresher{path: path, err: boom}, zerolog.Nop())

	err := l.Require(context.Background(), "Yb2")
	assert.True(t, errors.Is(err, boom))
}

func TestContains_MissingFile(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "absent.csv"), nil, zerolog.Nop())
	_, err := l.Contains("Xa1")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
