package download

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	headerRange         = "Range"
	headerContentRange  = "Content-Range"
	headerContentLength = "Content-Length"
	headerRequestID     = "X-Request-Id"
)

// setResumeRangeHeader asks for everything from offset to the end of the
// resource.
func setResumeRangeHeader(req *http.Request, offset uint64) {
	req.Header.Set(headerRange, fmt.Sprintf("bytes=%d-", offset))
}

// declaredLength reads the body length the server advertised. Go's client
// already parses Content-Length into resp.ContentLength; the header is
// consulted as well for transports that build responses by hand.
func declaredLength(resp *http.Response) *uint64 {
	if resp.ContentLength >= 0 {
		return uint64Ptr(uint64(resp.ContentLength))
	}
	raw := strings.TrimSpace(resp.Header.Get(headerContentLength))
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	return uint64Ptr(n)
}

// parseContentRange parses "bytes start-end/total". total is -1 for "*".
func parseContentRange(header string) (start, end, total int64, err error) {
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}
	spec, size, ok := strings.Cut(strings.TrimPrefix(header, "bytes "), "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}
	if start < 0 || end < start {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}
	if size == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil || total <= end {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}
	return start, end, total, nil
}
