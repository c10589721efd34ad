package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/consumer"
)

// Executor performs exactly one transfer attempt.
type Executor interface {
	Execute(ctx context.Context, req TransferRequest) TransferOutcome
}

// HTTPExecutor issues a single GET and streams the body into a Consumer.
type HTTPExecutor struct {
	Client   client.HTTPClient
	Consumer consumer.Consumer
	// Limiter throttles the body when set.
	Limiter *rate.Limiter
}

var _ Executor = &HTTPExecutor{}

func NewHTTPExecutor(httpClient client.HTTPClient, c consumer.Consumer, limiter *rate.Limiter) *HTTPExecutor {
	return &HTTPExecutor{Client: httpClient, Consumer: c, Limiter: limiter}
}

func (e *HTTPExecutor) Execute(ctx context.Context, treq TransferRequest) TransferOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, treq.URL, nil)
	if err != nil {
		return TransferOutcome{ConnectionError: ErrorKindOther, Err: fmt.Errorf("error creating request for %s: %w", treq.URL, err)}
	}
	if treq.RequestID != "" {
		req.Header.Set(headerRequestID, treq.RequestID)
	}
	if treq.ResumeOffset != nil {
		setResumeRangeHeader(req, *treq.ResumeOffset)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return TransferOutcome{ConnectionError: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	outcome := TransferOutcome{
		HTTPStatus:     resp.StatusCode,
		DeclaredLength: declaredLength(resp),
	}
	if !outcome.successStatus() {
		return outcome
	}

	if treq.ResumeOffset != nil && resp.StatusCode == http.StatusPartialContent {
		start, end, total, err := parseContentRange(resp.Header.Get(headerContentRange))
		if err != nil {
			outcome.ConnectionError = ErrorKindProtocol
			outcome.Err = err
			return outcome
		}
		if uint64(start) != *treq.ResumeOffset {
			outcome.ConnectionError = ErrorKindProtocol
			outcome.Err = fmt.Errorf("requested bytes from %d, server sent from %d", *treq.ResumeOffset, start)
			return outcome
		}
		rangeLength := uint64(end - start + 1)
		if declared, ok := outcome.Declared(); !ok {
			outcome.DeclaredLength = uint64Ptr(rangeLength)
		} else if declared != rangeLength {
			outcome.ConnectionError = ErrorKindProtocol
			outcome.Err = &ProtocolViolationError{
				Declared: declared,
				Detail:   fmt.Sprintf("Content-Length %d does not match Content-Range length %d", declared, rangeLength),
			}
			return outcome
		}
		outcome.Offset = *treq.ResumeOffset
		if total >= 0 {
			outcome.TotalLength = uint64Ptr(uint64(total))
		}
	}
	// Any other 2xx on a ranged request means the range was ignored and the
	// body is the whole resource, so it is written from the start.

	body := &trackingReader{r: throttle(ctx, resp.Body, e.Limiter)}
	var src io.Reader = body
	if declared, ok := outcome.Declared(); ok {
		src = io.LimitReader(body, int64(declared))
	}

	n, err := e.Consumer.Consume(src, treq.DestinationPath, int64(outcome.Offset))
	outcome.BytesWritten = uint64(n)
	switch {
	case err != nil && body.err != nil:
		outcome.ConnectionError = classifyTransportError(body.err)
		outcome.Err = body.err
		return outcome
	case err != nil:
		outcome.ConnectionError = ErrorKindLocalWrite
		outcome.Err = &LocalWriteError{Path: treq.DestinationPath, Err: err}
		return outcome
	}

	if declared, ok := outcome.Declared(); ok && outcome.BytesWritten == declared {
		// The limit stopped the copy; make sure the body really ends here. Over
		// HTTP/1.1 net/http already stops at Content-Length, so this fires for
		// lengths taken from Content-Range and for custom transports.
		extra, err := probeExtraBytes(body)
		switch {
		case extra:
			outcome.ConnectionError = ErrorKindProtocol
			outcome.Err = &ProtocolViolationError{Declared: declared, Written: declared + 1}
			return outcome
		case err != nil:
			outcome.ConnectionError = classifyTransportError(err)
			outcome.Err = err
			return outcome
		}
	}

	outcome.StreamComplete = true
	return outcome
}

// trackingReader remembers the first non-EOF read error so failures of the
// body can be told apart from failures writing the destination.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

// probeExtraBytes reads past the declared length. It returns true if the body
// has more data.
func probeExtraBytes(r io.Reader) (bool, error) {
	var buf [1]byte
	for {
		n, err := r.Read(buf[:])
		if n > 0 {
			return true, nil
		}
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
}

func classifyTransportError(err error) ErrorKind {
	var netErr net.Error
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrorKindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorKindTimeout
	case errors.Is(err, io.ErrUnexpectedEOF):
		return ErrorKindUnexpectedEOF
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, net.ErrClosed):
		return ErrorKindReset
	default:
		return ErrorKindOther
	}
}
