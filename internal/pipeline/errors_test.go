package pipeline

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyFetchConnectionResetIsTransient(t *testing.T) {
	t.Parallel()

	opErr := &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	err := ClassifyFetch("https://a.example.org/d/1", opErr)
	require.Equal(t, KindTransient, err.Kind)
	require.True(t, err.Recoverable)
	require.Equal(t, "https://a.example.org/d/1", err.URL)

	// A reset wrapped without the OpError envelope still classifies.
	bare := fmt.Errorf("proxy: %w", syscall.ECONNRESET)
	require.Equal(t, KindTransient, ClassifyFetch("u", bare).Kind)
}

func TestClassifyFetchTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindTransient, ClassifyFetch("u", timeoutErr{}).Kind)
}

func TestClassifyFetchUnknownErrorIsContent(t *testing.T) {
	t.Parallel()

	err := ClassifyFetch("u", errors.New("tls handshake rejected"))
	require.Equal(t, KindContent, err.Kind)
	require.False(t, err.Recoverable)
}

func TestClassifyStatusTable(t *testing.T) {
	t.Parallel()

	cases := map[int]ErrorKind{
		200: "",
		204: "",
		404: KindNotFound,
		429: KindRateLimited,
		400: KindContent,
		403: KindContent,
		500: KindTransient,
		503: KindTransient,
	}
	for code, want := range cases {
		require.Equal(t, want, ClassifyStatus(code), "status %d", code)
	}
}

func TestErrorAnnotationsCopy(t *testing.T) {
	t.Parallel()

	base := NewError(KindTransient, "fetch failed")
	annotated := base.WithItem("exp-1", "https://a.example.org/d/exp-1").WithOrigin("scraper")

	require.Empty(t, base.ItemID)
	require.Empty(t, base.Origin)
	require.Equal(t, "exp-1", annotated.ItemID)
	require.Equal(t, "scraper", annotated.Origin)
	require.Equal(t, KindTransient, annotated.Kind)
}

func TestKindOfFallsBackToContent(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindContent, KindOf(errors.New("anything")))
	require.Equal(t, KindExhausted, KindOf(fmt.Errorf("wrapped: %w",
		NewError(KindExhausted, "out of attempts"))))
}
