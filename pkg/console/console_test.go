// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestPrompt_ReadsLines(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("first\r\nsecond\nlast"), &out)
	ctx := context.Background()

	for _, want := range []string{"first", "second", "last"} {
		got, err := c.Prompt(ctx, "Scan the docket QR code", false)
		if err != nil {
			t.Fatalf("Prompt: %v", err)
		}
		if got != want {
			t.Errorf("Prompt() = %q, want %q", got, want)
		}
	}

	if _, err := c.Prompt(ctx, "again", true); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
	if !strings.Contains(out.String(), "Scan the docket QR code") {
		t.Errorf("prompt label missing from output: %q", out.String())
	}
}

func TestPromptSecret_NonTerminalFallsBack(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("WIFI:S:warp2-Xyz;;\n"), &out)

	got, err := c.PromptSecret(context.Background(), "Scan the ESP Brick QR code", false)
	if err != nil || got != "WIFI:S:warp2-Xyz;;" {
		t.Errorf("PromptSecret() = %q, %v", got, err)
	}
}

func TestPrompt_Cancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := New(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Prompt(ctx, "waiting", false); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestProgress_LineHandling(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	c.Progress("Waiting for NFC tags. %d seen", 1)
	c.Progress("Waiting for NFC tags. %d seen", 2)
	c.EndProgress("3 NFC tags seen.")
	c.Infof("EVSE UID is %s", "Xa1")

	text := out.String()
	if !strings.Contains(text, "2 seen") || !strings.Contains(text, "3 NFC tags seen.\n") {
		t.Errorf("unexpected progress output: %q", text)
	}
	if !strings.Contains(text, "EVSE UID is Xa1") {
		t.Errorf("info line missing: %q", text)
	}
}
