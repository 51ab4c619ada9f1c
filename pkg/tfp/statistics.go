// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/atomic"
)

// Statistics tracks link traffic and error counts. Safe for concurrent use.
type Statistics struct {
	StartTime time.Time

	PacketsSent     atomic.Uint64
	PacketsReceived atomic.Uint64
	Responses       atomic.Uint64
	Callbacks       atomic.Uint64
	Timeouts        atomic.Uint64
	Unmatched       atomic.Uint64
	ErrorResponses  atomic.Uint64
	DecodeErrors    atomic.Uint64
	FrameErrors     atomic.Uint64
	DroppedCallback atomic.Uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// StatisticsSnapshot is a point-in-time copy with derived rates
type StatisticsSnapshot struct {
	Elapsed         time.Duration
	PacketsSent     uint64
	PacketsReceived uint64
	Responses       uint64
	Callbacks       uint64
	Timeouts        uint64
	Unmatched       uint64
	ErrorResponses  uint64
	DecodeErrors    uint64
	FrameErrors     uint64
	DroppedCallback uint64

	PacketRate float64 // received packets/sec
	ErrorRate  float64 // errors/sec
}

// Errors sums every error counter
func (s StatisticsSnapshot) Errors() uint64 {
	return s.Timeouts + s.Unmatched + s.ErrorResponses + s.DecodeErrors + s.FrameErrors
}

// Snapshot copies the counters and calculates rates
func (s *Statistics) Snapshot() StatisticsSnapshot {
	snap := StatisticsSnapshot{
		Elapsed:         time.Since(s.StartTime),
		PacketsSent:     s.PacketsSent.Load(),
		PacketsReceived: s.PacketsReceived.Load(),
		Responses:       s.Responses.Load(),
		Callbacks:       s.Callbacks.Load(),
		Timeouts:        s.Timeouts.Load(),
		Unmatched:       s.Unmatched.Load(),
		ErrorResponses:  s.ErrorResponses.Load(),
		DecodeErrors:    s.DecodeErrors.Load(),
		FrameErrors:     s.FrameErrors.Load(),
		DroppedCallback: s.DroppedCallback.Load(),
	}

	if seconds := snap.Elapsed.Seconds(); seconds > 0 {
		snap.PacketRate = float64(snap.PacketsReceived) / seconds
		snap.ErrorRate = float64(snap.Errors()) / seconds
	}
	return snap
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", snap.Elapsed.Seconds())
	fmt.Fprintf(&b, "Packets Sent:     %8d\n", snap.PacketsSent)
	fmt.Fprintf(&b, "Packets Received: %8d\n", snap.PacketsReceived)
	fmt.Fprintf(&b, "Responses:        %8d\n", snap.Responses)
	fmt.Fprintf(&b, "Callbacks:        %8d\n", snap.Callbacks)

	if snap.Timeouts > 0 {
		fmt.Fprintf(&b, "Timeouts:         %8d\n", snap.Timeouts)
	}
	if snap.Unmatched > 0 {
		fmt.Fprintf(&b, "Unmatched:        %8d\n", snap.Unmatched)
	}
	if snap.ErrorResponses > 0 {
		fmt.Fprintf(&b, "Error Responses:  %8d\n", snap.ErrorResponses)
	}
	if snap.DecodeErrors > 0 {
		fmt.Fprintf(&b, "Decode Errors:    %8d\n", snap.DecodeErrors)
	}
	if snap.FrameErrors > 0 {
		fmt.Fprintf(&b, "Frame Errors:     %8d\n", snap.FrameErrors)
	}
	if snap.DroppedCallback > 0 {
		fmt.Fprintf(&b, "Dropped Callbacks:%8d\n", snap.DroppedCallback)
	}

	fmt.Fprintf(&b, "\nPacket Rate:  %.1f packets/sec\n", snap.PacketRate)
	fmt.Fprintf(&b, "Error Rate:   %.2f errors/sec\n", snap.ErrorRate)
	return b.String()
}
