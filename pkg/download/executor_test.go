package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"testing/iotest"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/rget/pkg/consumer"
)

const mockURL = "http://example.com/foobar"

func newMockExecutor(responder httpmock.Responder) *HTTPExecutor {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, mockURL, responder)
	return NewHTTPExecutor(&http.Client{Transport: transport}, &consumer.FileWriter{}, nil)
}

// rawResponse builds a response whose Content-Length header is taken at face
// value, the way a misbehaving server would send it.
func rawResponse(status int, contentLength string, body io.Reader) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := &http.Response{
			Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
			StatusCode:    status,
			Header:        http.Header{},
			Body:          io.NopCloser(body),
			ContentLength: -1,
			Request:       req,
		}
		if contentLength != "" {
			resp.Header.Set(headerContentLength, contentLength)
		}
		return resp, nil
	}
}

func readFile(t *testing.T, path string) string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestExecuteWritesBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("foobar"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "foobar")
	executor := NewHTTPExecutor(ts.Client(), &consumer.FileWriter{}, nil)

	outcome := executor.Execute(context.Background(), TransferRequest{URL: ts.URL, DestinationPath: dest})

	assert.Equal(t, http.StatusOK, outcome.HTTPStatus)
	require.NotNil(t, outcome.DeclaredLength)
	assert.Equal(t, uint64(6), *outcome.DeclaredLength)
	assert.Equal(t, uint64(6), outcome.BytesWritten)
	assert.True(t, outcome.StreamComplete)
	assert.Equal(t, ErrorKindNone, outcome.ConnectionError)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, "foobar", readFile(t, dest))
}

func TestExecuteNon2xxLeavesDestinationUntouched(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusBadGateway} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte("error page"))
			}))
			defer ts.Close()

			dir := t.TempDir()
			existing := filepath.Join(dir, "existing")
			require.NoError(t, os.WriteFile(existing, []byte("keep"), 0644))
			missing := filepath.Join(dir, "missing")
			executor := NewHTTPExecutor(ts.Client(), &consumer.FileWriter{}, nil)

			outcome := executor.Execute(context.Background(), TransferRequest{URL: ts.URL, DestinationPath: existing})
			assert.Equal(t, status, outcome.HTTPStatus)
			assert.Zero(t, outcome.BytesWritten)
			assert.False(t, outcome.StreamComplete)
			assert.Equal(t, "keep", readFile(t, existing))

			executor.Execute(context.Background(), TransferRequest{URL: ts.URL, DestinationPath: missing})
			assert.NoFileExists(t, missing)
		})
	}
}

func TestExecuteShortBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "6")
		_, _ = w.Write([]byte("fooba"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "foobar")
	executor := NewHTTPExecutor(ts.Client(), &consumer.FileWriter{}, nil)

	outcome := executor.Execute(context.Background(), TransferRequest{URL: ts.URL, DestinationPath: dest})

	assert.Equal(t, http.StatusOK, outcome.HTTPStatus)
	require.NotNil(t, outcome.DeclaredLength)
	assert.Equal(t, uint64(6), *outcome.DeclaredLength)
	assert.Equal(t, uint64(5), outcome.BytesWritten)
	assert.False(t, outcome.StreamComplete)
	assert.Equal(t, ErrorKindUnexpectedEOF, outcome.ConnectionError)
	assert.ErrorIs(t, outcome.Err, io.ErrUnexpectedEOF)
	assert.Equal(t, "fooba", readFile(t, dest))
}

func TestExecuteResumeSendsRangeAndRequestID(t *testing.T) {
	var rangeHeader, requestID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader = r.Header.Get("Range")
		requestID = r.Header.Get("X-Request-Id")
		w.Header().Set("Content-Range", "bytes 3-5/6")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("bar"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "foobar")
	require.NoError(t, os.WriteFile(dest, []byte("foo"), 0644))
	executor := NewHTTPExecutor(ts.Client(), &consumer.FileWriter{}, nil)

	outcome := executor.Execute(context.Background(), TransferRequest{
		URL:             ts.URL,
		DestinationPath: dest,
		ResumeOffset:    uint64Ptr(3),
		RequestID:       "abc-123",
	})

	assert.Equal(t, "bytes=3-", rangeHeader)
	assert.Equal(t, "abc-123", requestID)
	assert.Equal(t, http.StatusPartialContent, outcome.HTTPStatus)
	assert.Equal(t, uint64(3), outcome.Offset)
	assert.Equal(t, uint64(3), outcome.BytesWritten)
	assert.Equal(t, uint64(6), outcome.OnDisk())
	total, ok := outcome.Total()
	assert.True(t, ok)
	assert.Equal(t, uint64(6), total)
	assert.True(t, outcome.StreamComplete)
	assert.Equal(t, "foobar", readFile(t, dest))
}

func TestExecuteIgnoredRangeWritesFromStart(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("foobar"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "foobar")
	require.NoError(t, os.WriteFile(dest, []byte("fooXXXXXX"), 0644))
	executor := NewHTTPExecutor(ts.Client(), &consumer.FileWriter{}, nil)

	outcome := executor.Execute(context.Background(), TransferRequest{URL: ts.URL, DestinationPath: dest, ResumeOffset: uint64Ptr(3)})

	assert.Equal(t, http.StatusOK, outcome.HTTPStatus)
	assert.Zero(t, outcome.Offset)
	assert.Equal(t, uint64(6), outcome.BytesWritten)
	assert.True(t, outcome.StreamComplete)
	assert.Equal(t, "foobar", readFile(t, dest))
}

func TestExecuteBadContentRange(t *testing.T) {
	tests := []struct {
		name         string
		contentRange string
		malformed    bool
	}{
		{name: "wrong start", contentRange: "bytes 0-5/6"},
		{name: "garbage", contentRange: "garbage", malformed: true},
		{name: "missing", contentRange: "", malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentRange != "" {
					w.Header().Set("Content-Range", tt.contentRange)
				}
				w.WriteHeader(http.StatusPartialContent)
				_, _ = w.Write([]byte("foobar"))
			}))
			defer ts.Close()

			dest := filepath.Join(t.TempDir(), "foobar")
			require.NoError(t, os.WriteFile(dest, []byte("foo"), 0644))
			executor := NewHTTPExecutor(ts.Client(), &consumer.FileWriter{}, nil)

			outcome := executor.Execute(context.Background(), TransferRequest{URL: ts.URL, DestinationPath: dest, ResumeOffset: uint64Ptr(3)})

			assert.Equal(t, ErrorKindProtocol, outcome.ConnectionError)
			assert.Zero(t, outcome.BytesWritten)
			if tt.malformed {
				assert.ErrorIs(t, outcome.Err, errMalformedContentRange)
			}
			assert.Equal(t, "foo", readFile(t, dest))
		})
	}
}

func TestExecuteContentLengthDisagreesWithContentRange(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 3-5/6")
		w.Header().Set("Content-Length", "6")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("barbaz"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "foobar")
	require.NoError(t, os.WriteFile(dest, []byte("foo"), 0644))
	executor := NewHTTPExecutor(ts.Client(), &consumer.FileWriter{}, nil)

	outcome := executor.Execute(context.Background(), TransferRequest{URL: ts.URL, DestinationPath: dest, ResumeOffset: uint64Ptr(3)})

	assert.Equal(t, ErrorKindProtocol, outcome.ConnectionError)
	var pv *ProtocolViolationError
	assert.ErrorAs(t, outcome.Err, &pv)
	assert.Zero(t, outcome.BytesWritten)
	assert.Equal(t, "foo", readFile(t, dest))
}

func TestExecuteContentRangeBoundsBodyWithoutLength(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		complete bool
	}{
		{name: "exact", body: "bar", complete: true},
		{name: "longer", body: "barXYZ", complete: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "foobar")
			require.NoError(t, os.WriteFile(dest, []byte("foo"), 0644))
			executor := newMockExecutor(func(req *http.Request) (*http.Response, error) {
				resp, _ := rawResponse(http.StatusPartialContent, "", strings.NewReader(tt.body))(req)
				resp.Header.Set(headerContentRange, "bytes 3-5/6")
				return resp, nil
			})

			outcome := executor.Execute(context.Background(), TransferRequest{URL: mockURL, DestinationPath: dest, ResumeOffset: uint64Ptr(3)})

			require.NotNil(t, outcome.DeclaredLength)
			assert.Equal(t, uint64(3), *outcome.DeclaredLength)
			assert.Equal(t, uint64(3), outcome.BytesWritten)
			assert.Equal(t, tt.complete, outcome.StreamComplete)
			if !tt.complete {
				assert.Equal(t, ErrorKindProtocol, outcome.ConnectionError)
			}
			assert.Equal(t, "foobar", readFile(t, dest))
		})
	}
}

func TestExecuteMoreBytesThanDeclared(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "foobar")
	executor := newMockExecutor(rawResponse(http.StatusOK, "3", strings.NewReader("foobar")))

	outcome := executor.Execute(context.Background(), TransferRequest{URL: mockURL, DestinationPath: dest})

	require.NotNil(t, outcome.DeclaredLength)
	assert.Equal(t, uint64(3), *outcome.DeclaredLength)
	assert.Equal(t, uint64(3), outcome.BytesWritten)
	assert.False(t, outcome.StreamComplete)
	assert.Equal(t, ErrorKindProtocol, outcome.ConnectionError)
	var pv *ProtocolViolationError
	assert.ErrorAs(t, outcome.Err, &pv)

	d := decide(context.Background(), outcome, false, true)
	assert.Equal(t, actionFail, d.action)
}

func TestExecuteUnparseableContentLength(t *testing.T) {
	for _, contentLength := range []string{"abc", "-1", "6.0"} {
		t.Run(contentLength, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "foobar")
			executor := newMockExecutor(rawResponse(http.StatusOK, contentLength, strings.NewReader("foobar")))

			outcome := executor.Execute(context.Background(), TransferRequest{URL: mockURL, DestinationPath: dest})

			assert.Nil(t, outcome.DeclaredLength)
			assert.Equal(t, uint64(6), outcome.BytesWritten)
			assert.True(t, outcome.StreamComplete)
			assert.Equal(t, "foobar", readFile(t, dest))
		})
	}
}

func TestExecuteBodyReadError(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "foobar")
	body := io.MultiReader(strings.NewReader("fooba"), iotest.ErrReader(syscall.ECONNRESET))
	executor := newMockExecutor(rawResponse(http.StatusOK, "", body))

	outcome := executor.Execute(context.Background(), TransferRequest{URL: mockURL, DestinationPath: dest})

	assert.Nil(t, outcome.DeclaredLength)
	assert.Equal(t, uint64(5), outcome.BytesWritten)
	assert.False(t, outcome.StreamComplete)
	assert.Equal(t, ErrorKindReset, outcome.ConnectionError)
	assert.ErrorIs(t, outcome.Err, syscall.ECONNRESET)
}

func TestExecuteTransportError(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "foobar")
	executor := newMockExecutor(httpmock.NewErrorResponder(syscall.ECONNRESET))

	outcome := executor.Execute(context.Background(), TransferRequest{URL: mockURL, DestinationPath: dest})

	assert.Zero(t, outcome.HTTPStatus)
	assert.Equal(t, ErrorKindReset, outcome.ConnectionError)
	assert.Error(t, outcome.Err)
	assert.NoFileExists(t, dest)
}

func TestExecuteLocalWriteFailure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "missing-dir", "foobar")
	executor := newMockExecutor(rawResponse(http.StatusOK, "6", strings.NewReader("foobar")))

	outcome := executor.Execute(context.Background(), TransferRequest{URL: mockURL, DestinationPath: dest})

	assert.Equal(t, http.StatusOK, outcome.HTTPStatus)
	assert.Equal(t, ErrorKindLocalWrite, outcome.ConnectionError)
	var lwe *LocalWriteError
	require.ErrorAs(t, outcome.Err, &lwe)
	assert.Equal(t, dest, lwe.Path)
}

func TestExecuteThrottled(t *testing.T) {
	payload := strings.Repeat("x", 1500)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "payload")
	executor := NewHTTPExecutor(ts.Client(), &consumer.FileWriter{}, NewRateLimiter(1000))

	start := time.Now()
	outcome := executor.Execute(context.Background(), TransferRequest{URL: ts.URL, DestinationPath: dest})
	elapsed := time.Since(start)

	assert.True(t, outcome.StreamComplete)
	assert.Equal(t, uint64(len(payload)), outcome.BytesWritten)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	assert.Equal(t, payload, readFile(t, dest))
}

func TestNewRateLimiter(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0))
	assert.Nil(t, NewRateLimiter(-5))

	limiter := NewRateLimiter(1000)
	require.NotNil(t, limiter)
	assert.Equal(t, 1000, limiter.Burst())

	limiter = NewRateLimiter(100 * maxThrottleBurst)
	require.NotNil(t, limiter)
	assert.Equal(t, maxThrottleBurst, limiter.Burst())
}

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{name: "nil", err: nil, expected: ErrorKindNone},
		{name: "canceled", err: fmt.Errorf("get: %w", context.Canceled), expected: ErrorKindCanceled},
		{name: "deadline", err: context.DeadlineExceeded, expected: ErrorKindTimeout},
		{name: "os deadline", err: os.ErrDeadlineExceeded, expected: ErrorKindTimeout},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, expected: ErrorKindUnexpectedEOF},
		{name: "reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), expected: ErrorKindReset},
		{name: "broken pipe", err: syscall.EPIPE, expected: ErrorKindReset},
		{name: "other", err: errors.New("boom"), expected: ErrorKindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyTransportError(tt.err))
		})
	}
}
