// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/provisor/pkg/rig"
)

// blinkPattern is the strip state while waiting for tags: one orange
// segment per missing tag blinks at 1 Hz, the rest are blue.
func blinkPattern(missing int, sinceChange time.Duration) []rig.Color {
	phase := sinceChange % time.Second
	c := rig.Orange
	if phase > 500*time.Millisecond {
		c = rig.Off
	}
	switch {
	case missing >= 3:
		return []rig.Color{c}
	case missing == 2:
		return []rig.Color{rig.Blue, c}
	case missing == 1:
		return []rig.Color{rig.Blue, rig.Blue, c}
	default:
		return []rig.Color{rig.Blue}
	}
}

// distinctTags drops empty reader slots and repeated ids
func distinctTags(tags []rig.Credential) []rig.Credential {
	var out []rig.Credential
	for _, t := range tags {
		if t.TagID.IsZero() {
			continue
		}
		dup := false
		for _, o := range out {
			if o.TagID.Equal(t.TagID) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	return out
}

// enrollCredentials waits until the bench reader has seen the required
// number of distinct tags. There is no timeout: the operator presents the
// tags and only cancellation ends the wait early.
func (p *Provisioner) enrollCredentials(ctx context.Context, r *run) error {
	if !r.wallbox.Variant.HasNetwork() {
		return nil
	}

	want := p.cfg.RequiredTags
	lastCount := -1
	changed := p.now()
	var seen []rig.Credential
	for {
		tags, err := p.rig.Credentials(ctx)
		if err != nil {
			return wrap(StageEnrollment, err, "Reading NFC tags")
		}
		seen = distinctTags(tags)

		if len(seen) != lastCount {
			lastCount = len(seen)
			changed = p.now()
		}
		p.op.Progress("Waiting for NFC tags. %d seen", len(seen))

		if len(seen) >= want {
			break
		}
		p.rig.SetLEDs(blinkPattern(want-len(seen), p.now().Sub(changed))...)
		if err := p.sleep(ctx, p.cfg.EnrollmentInterval); err != nil {
			return wrap(StageEnrollment, err, "Waiting for NFC tags")
		}
	}

	p.rig.SetLEDs(rig.Blue)
	p.op.EndProgress(fmt.Sprintf("%d NFC tags seen.", want))
	r.tags = seen[:want]
	return nil
}
