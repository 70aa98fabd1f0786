package watchdog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/mercury/internal/event"
	"github.com/roach88/mercury/internal/kernelmsg"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type statusSource struct {
	sig event.Signal[kernelmsg.ConnectionStatus]
}

func (s *statusSource) OnConnectionStatus(fn func(kernelmsg.ConnectionStatus)) *event.Subscription {
	return s.sig.Connect(fn)
}

func TestWatchdog_OneNoticePerEpisode(t *testing.T) {
	src := &statusSource{}
	w := New(quiet())
	defer w.Close()
	w.Watch(src)

	var notices []Notice
	w.Notified.Connect(func(n Notice) { notices = append(notices, n) })

	src.sig.Emit(kernelmsg.ConnConnecting)
	assert.Empty(t, notices)

	src.sig.Emit(kernelmsg.ConnDisconnected)
	src.sig.Emit(kernelmsg.ConnDisconnected)
	src.sig.Emit(kernelmsg.ConnConnected)
	src.sig.Emit(kernelmsg.ConnDisconnected)
	require.Len(t, notices, 1, "suppressed while shown")
	assert.Equal(t, SourceKernel, notices[0].Source)

	n, shown := w.Shown()
	assert.True(t, shown)
	assert.Equal(t, notices[0], n)

	w.Acknowledge()
	_, shown = w.Shown()
	assert.False(t, shown)

	src.sig.Emit(kernelmsg.ConnDisconnected)
	assert.Len(t, notices, 2, "re-armed after acknowledgment")
}

func TestWatchdog_CloseUnsubscribes(t *testing.T) {
	src := &statusSource{}
	w := New(quiet())
	w.Watch(src)
	w.Close()

	assert.Equal(t, 0, src.sig.Len())
	w.OnConnectionStatus(kernelmsg.ConnDisconnected)
	_, shown := w.Shown()
	assert.False(t, shown)
}

func TestWatchdog_ProbeRaisesNotice(t *testing.T) {
	var calls atomic.Int32
	raised := make(chan Notice, 4)
	w := New(quiet())
	w.Notified.Connect(func(n Notice) { raised <- n })

	w.StartProbe(context.Background(), 5*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return errors.New("dial tcp: refused")
	})

	select {
	case n := <-raised:
		assert.Equal(t, SourceProbe, n.Source)
		assert.Contains(t, n.Reason, "refused")
	case <-time.After(2 * time.Second):
		t.Fatal("probe never raised a notice")
	}
	w.Close()

	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.Len(t, raised, 0, "one notice while shown")
}

func TestHTTPProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.Client(), srv.URL, time.Second)
	assert.NoError(t, probe(context.Background()))

	status.Store(http.StatusNotFound)
	assert.NoError(t, probe(context.Background()), "4xx still means reachable")

	status.Store(http.StatusBadGateway)
	assert.Error(t, probe(context.Background()))

	srv.Close()
	assert.Error(t, probe(context.Background()))
}
