package download

// ErrorKind classifies why a single attempt did not reach a clean end of body.
type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindReset
	ErrorKindTimeout
	ErrorKindUnexpectedEOF
	ErrorKindCanceled
	ErrorKindOther
	// ErrorKindProtocol marks a response that contradicts its own headers
	// (more bytes than declared, a Content-Range that does not match the
	// requested offset).
	ErrorKindProtocol
	// ErrorKindLocalWrite marks a failure on the destination side.
	ErrorKindLocalWrite
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindReset:
		return "connection_reset"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindUnexpectedEOF:
		return "unexpected_eof"
	case ErrorKindCanceled:
		return "canceled"
	case ErrorKindProtocol:
		return "protocol_violation"
	case ErrorKindLocalWrite:
		return "local_write"
	default:
		return "other"
	}
}

// TransferRequest describes one attempt. A nil ResumeOffset asks for the
// whole resource.
type TransferRequest struct {
	URL             string
	DestinationPath string
	ResumeOffset    *uint64
	// RequestID is sent as X-Request-Id so attempts of one download can be
	// correlated server side.
	RequestID string
}

// TransferOutcome is what one attempt actually observed. It is a value: the
// executor builds it once and nothing modifies it afterwards.
type TransferOutcome struct {
	// HTTPStatus is zero when no response was received.
	HTTPStatus int
	// DeclaredLength is the length of this response's body, nil when the
	// server omitted the header or sent something unparseable.
	DeclaredLength *uint64
	BytesWritten   uint64
	// StreamComplete is only set when the body ended with a clean EOF.
	StreamComplete  bool
	ConnectionError ErrorKind
	Err             error
	// Offset is where in the destination this attempt started writing.
	Offset uint64
	// TotalLength is the full object size taken from Content-Range.
	TotalLength *uint64
}

// Declared returns the declared body length and whether one was present.
func (o TransferOutcome) Declared() (uint64, bool) {
	if o.DeclaredLength == nil {
		return 0, false
	}
	return *o.DeclaredLength, true
}

// Total returns the Content-Range object size and whether one was present.
func (o TransferOutcome) Total() (uint64, bool) {
	if o.TotalLength == nil {
		return 0, false
	}
	return *o.TotalLength, true
}

// OnDisk is the number of bytes of the destination this attempt accounts for.
func (o TransferOutcome) OnDisk() uint64 {
	return o.Offset + o.BytesWritten
}

func (o TransferOutcome) hasResponse() bool {
	return o.HTTPStatus != 0
}

func (o TransferOutcome) successStatus() bool {
	return o.HTTPStatus >= 200 && o.HTTPStatus <= 299
}

// touchedDestination reports whether the attempt got as far as writing the
// destination. Header checks that fail before the body is consumed leave the
// previous content in place.
func (o TransferOutcome) touchedDestination() bool {
	if !o.hasResponse() || !o.successStatus() {
		return false
	}
	return o.BytesWritten > 0 || o.Offset > 0 || o.ConnectionError != ErrorKindProtocol
}

// DownloadResult is returned once per Download call.
type DownloadResult struct {
	Success           bool
	TotalBytesWritten uint64
	AttemptsUsed      uint
	LastOutcome       TransferOutcome
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}
