// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package provision

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Thermoquad/provisor/pkg/mgmt"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

// Stage names a workflow phase
type Stage string

const (
	StageIdentity        Stage = "identity"
	StageNetworkIdentity Stage = "network identity"
	StagePowerOn         Stage = "power on"
	StageEnrollment      Stage = "enrollment"
	StageConnectivity    Stage = "connectivity"
	StageFirmware        Stage = "firmware"
	StageAcceptance      Stage = "acceptance tests"
	StageCredentials     Stage = "credential configuration"
	StageLedger          Stage = "test record lookup"
	StageElectrical      Stage = "electrical tests"
	StageFinalize        Stage = "finalize"
	StagePowerOff        Stage = "power off"
)

// Kind classifies a fatal error
type Kind int

const (
	KindInternal Kind = iota
	KindDisconnected
	KindTimeout
	KindProtocolDecode
	KindStreamOutOfSync
	KindValidationMismatch
	KindHardwareLocked
	KindTransientNetwork
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindDisconnected:
		return "disconnected"
	case KindTimeout:
		return "timeout"
	case KindProtocolDecode:
		return "protocol decode"
	case KindStreamOutOfSync:
		return "stream out of sync"
	case KindValidationMismatch:
		return "validation mismatch"
	case KindHardwareLocked:
		return "hardware locked"
	case KindTransientNetwork:
		return "network"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// FatalError aborts a provisioning run
type FatalError struct {
	Stage   Stage
	Kind    Kind
	Message string
	Err     error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// KindOf classifies err, looking through wrapping
func KindOf(err error) Kind {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var decodeErr *tfp.DecodeError
	var netErr net.Error

	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, tfp.ErrDisconnected):
		return KindDisconnected
	case errors.Is(err, tfp.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &decodeErr):
		return KindProtocolDecode
	case errors.Is(err, tfp.ErrStreamOutOfSync):
		return KindStreamOutOfSync
	case errors.Is(err, mgmt.ErrLocked):
		return KindHardwareLocked
	case errors.As(err, &netErr):
		return KindTransientNetwork
	}
	return KindInternal
}

func fatalf(stage Stage, kind Kind, format string, args ...any) *FatalError {
	return &FatalError{Stage: stage, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrap attaches a stage and message to a collaborator error, classifying it
func wrap(stage Stage, err error, format string, args ...any) *FatalError {
	return &FatalError{Stage: stage, Kind: classify(err), Message: fmt.Sprintf(format, args...), Err: err}
}
