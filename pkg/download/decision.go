package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/replicate/rget/pkg/client"
)

type action int

const (
	actionSucceed action = iota
	actionFail
	// actionResume asks for the rest of the resource starting at offset,
	// appending to what is already on disk.
	actionResume
	// actionRestart discards the destination and requests everything again.
	actionRestart
)

func (a action) String() string {
	switch a {
	case actionSucceed:
		return "succeed"
	case actionFail:
		return "fail"
	case actionResume:
		return "resume"
	case actionRestart:
		return "restart"
	default:
		return "unknown"
	}
}

type decision struct {
	action action
	offset uint64
	// err is the fatal error for actionFail and the reason for the retry
	// otherwise.
	err error
}

// decide maps one outcome to the next step. resumed tells whether the attempt
// carried a resume hint; resumeEnabled allows short transfers to continue
// from where they stopped.
//
//	no response, recoverable error       -> restart
//	no response, unrecoverable error     -> fail
//	status outside 2xx                   -> fail
//	executor saw a protocol violation    -> fail
//	local write failure                  -> fail
//	declared, written > declared         -> fail
//	declared, written == declared, clean -> succeed (resumed: total must match Content-Range)
//	declared, written == declared, error -> restart
//	declared, written < declared         -> resume, or restart if this attempt was a resume
//	not declared, clean end of body      -> succeed (total must match Content-Range if known)
//	not declared, stream broken          -> restart
func decide(ctx context.Context, o TransferOutcome, resumed, resumeEnabled bool) decision {
	switch {
	case o.ConnectionError == ErrorKindLocalWrite:
		return decision{action: actionFail, err: o.Err}
	case !o.hasResponse():
		if !client.IsRecoverable(ctx, o.Err) {
			return decision{action: actionFail, err: fmt.Errorf("request failed: %w", o.Err)}
		}
		return decision{action: actionRestart, err: &TransientTransportError{Kind: o.ConnectionError, Err: o.Err}}
	case !o.successStatus():
		return decision{action: actionFail, err: ErrUnexpectedHTTPStatus(o.HTTPStatus)}
	case o.ConnectionError == ErrorKindProtocol:
		return decision{action: actionFail, err: protocolViolation(o)}
	}

	declared, ok := o.Declared()
	if !ok {
		if o.StreamComplete {
			if total, ok := o.Total(); ok && o.OnDisk() != total {
				return decision{action: actionRestart, err: fmt.Errorf("%w: have %d bytes, expected %d", ErrInconsistentTotal, o.OnDisk(), total)}
			}
			return decision{action: actionSucceed}
		}
		return decision{action: actionRestart, err: &TransientTransportError{Kind: o.ConnectionError, Err: o.Err}}
	}

	switch {
	case o.BytesWritten > declared:
		return decision{action: actionFail, err: &ProtocolViolationError{Declared: declared, Written: o.BytesWritten}}
	case o.BytesWritten == declared && o.StreamComplete:
		if total, ok := o.Total(); ok && o.OnDisk() != total {
			return decision{action: actionRestart, err: fmt.Errorf("%w: have %d bytes, expected %d", ErrInconsistentTotal, o.OnDisk(), total)}
		}
		return decision{action: actionSucceed}
	case o.BytesWritten == declared:
		return decision{action: actionRestart, err: &TransientTransportError{Kind: o.ConnectionError, Err: o.Err}}
	}

	short := &ShortTransferError{Declared: declared, Written: o.BytesWritten}
	if resumeEnabled && !resumed && o.OnDisk() > 0 {
		return decision{action: actionResume, offset: o.OnDisk(), err: short}
	}
	return decision{action: actionRestart, err: short}
}

func protocolViolation(o TransferOutcome) error {
	var pv *ProtocolViolationError
	if errors.As(o.Err, &pv) {
		return pv
	}
	declared, _ := o.Declared()
	detail := "invalid response"
	if o.Err != nil {
		detail = o.Err.Error()
	}
	return &ProtocolViolationError{Declared: declared, Written: o.BytesWritten, Detail: detail}
}
