// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"context"
	"sync"
)

// ChunkReader performs one low-level call of a chunked getter
type ChunkReader[T any] func(ctx context.Context) (offset uint16, chunk []T, err error)

// Stream reassembles a fixed-length value that a device hands out in chunks.
//
// The device keeps one read position per stream, so reads are serialized by
// the stream lock for the whole logical read including the drain after a
// desync.
type Stream[T any] struct {
	Length    int
	ChunkSize int

	read ChunkReader[T]
	mu   sync.Mutex
}

// NewStream creates a reassembler over a chunked getter
func NewStream[T any](length, chunkSize int, read ChunkReader[T]) *Stream[T] {
	return &Stream[T]{
		Length:    length,
		ChunkSize: chunkSize,
		read:      read,
	}
}

// Read returns exactly Length elements, an empty slice when the device
// reports an empty stream, or ErrStreamOutOfSync with no data.
//
// On desync the remaining chunks are consumed until the device position is
// within one chunk of the end, so the next Read starts at offset zero.
func (s *Stream[T]) Read(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset, chunk, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if offset == StreamEmptyOffset {
		return []T{}, nil
	}

	outOfSync := offset != 0
	data := make([]T, 0, s.Length+s.ChunkSize)
	data = append(data, chunk...)

	for !outOfSync && len(data) < s.Length {
		offset, chunk, err = s.read(ctx)
		if err != nil {
			return nil, err
		}
		outOfSync = int(offset) != len(data)
		data = append(data, chunk...)
	}

	if outOfSync {
		for int(offset)+s.ChunkSize < s.Length {
			offset, _, err = s.read(ctx)
			if err != nil {
				return nil, err
			}
		}
		return nil, ErrStreamOutOfSync
	}

	return data[:s.Length], nil
}
