package serialmux

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_DeliversChunksInOrder(t *testing.T) {
	port := NewTestableSerialPort([]byte{0xAA, 0x01}, []byte{0x02}, []byte{0x03, 0x04, 0x05})
	port.EndOfStream()
	mux := NewSerialMux(port)

	var got [][]byte
	err := mux.Monitor(context.Background(), func(b []byte) { got = append(got, b) })
	require.NoError(t, err, "end of stream should end Monitor cleanly")

	assert.Equal(t, [][]byte{{0xAA, 0x01}, {0x02}, {0x03, 0x04, 0x05}}, got)
	st := mux.Stats()
	assert.Equal(t, uint64(3), st.Reads)
	assert.Equal(t, uint64(6), st.BytesRead)
}

func TestMonitor_ReadSizeSplitsChunks(t *testing.T) {
	port := NewTestableSerialPort(bytes.Repeat([]byte{7}, 10))
	port.EndOfStream()
	mux := NewSerialMux(port, WithReadSize(4))

	var sizes []int
	require.NoError(t, mux.Monitor(context.Background(), func(b []byte) { sizes = append(sizes, len(b)) }))
	assert.Equal(t, []int{4, 4, 2}, sizes)
}

func TestMonitor_ContextCancel(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx, nil) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	require.NoError(t, mux.Close())
	assert.True(t, port.Closed())
}

func TestMonitor_ReadError(t *testing.T) {
	port := NewTestableSerialPort()
	boom := errors.New("device unplugged")
	port.ReadError = boom
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestMonitor_CloseEndsCleanly(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background(), nil) }()
	require.NoError(t, mux.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}
}

func TestSubscribe_ReceivesCopies(t *testing.T) {
	port := NewTestableSerialPort([]byte{1, 2, 3})
	port.EndOfStream()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	var handled []byte
	require.NoError(t, mux.Monitor(context.Background(), func(b []byte) {
		handled = b
		b[0] = 0xFF // the handler owns its chunk
	}))

	select {
	case got := <-ch:
		assert.Equal(t, []byte{1, 2, 3}, got)
	default:
		t.Fatal("subscriber received nothing")
	}
	assert.Equal(t, []byte{0xFF, 2, 3}, handled)
}

func TestSubscribe_SlowSubscriberDrops(t *testing.T) {
	port := NewTestableSerialPort([]byte{1}, []byte{2}, []byte{3})
	port.EndOfStream()
	mux := NewSerialMux(port, WithSubscriberBuffer(1))
	id, _ := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background(), nil))
	st := mux.Stats()
	assert.Equal(t, uint64(2), st.SubscriberDrops)
	assert.Equal(t, 1, st.Subscribers)

	mux.Unsubscribe(id)
	mux.Unsubscribe(id) // second call is a no-op
	assert.Equal(t, 0, mux.Stats().Subscribers)
}

func TestClose_ClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	require.NoError(t, mux.Close())

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel still open after Close")

	_, late := mux.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscription after Close should be closed")
}

// localHostRequest creates an httptest request that appears to come from localhost.
// This satisfies tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes_Stats(t *testing.T) {
	port := NewTestableSerialPort([]byte("abc"))
	port.EndOfStream()
	mux := NewSerialMux(port)
	require.NoError(t, mux.Monitor(context.Background(), nil))

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/serial-stats"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bytes_read":3`)
}

func TestAdminRoutes_TailMethodNotAllowed(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodPost, "/debug/serial-tail"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdminRoutes_TailStreamsHex(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx, nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/serial-tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return mux.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)
	port.AddReadData([]byte{0xAA, 0x10, 0xFF})

	want := "data: " + hex.EncodeToString([]byte{0xAA, 0x10, 0xFF})
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			assert.Equal(t, want, scanner.Text())
			return
		}
	}
	t.Fatalf("stream ended without data: %v", scanner.Err())
}
