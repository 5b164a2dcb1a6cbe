// internal/capture/proxy_test.go
package capture

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/internal/config"
)

// -- Test Helpers --

// startCaptureProxy boots a proxy on an ephemeral port and returns its log
// plus a client routed through it.
func startCaptureProxy(t *testing.T) (*TrafficLog, *http.Client) {
	t.Helper()

	log := NewTrafficLog(0)
	proxy := NewProxy(config.ProxyConfig{Enabled: true, Address: "127.0.0.1:0"}, log, zap.NewNop())
	require.NoError(t, proxy.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = proxy.Stop(ctx)
	})

	proxyURL, err := url.Parse("http://" + proxy.Addr())
	require.NoError(t, err)

	transport := &http.Transport{
		Proxy:           http.ProxyURL(proxyURL),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	t.Cleanup(transport.CloseIdleConnections)

	return log, &http.Client{Transport: transport}
}

// -- Tests --

func TestCaptureProxy_RecordsHTTPExchange(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer target.Close()

	log, client := startCaptureProxy(t)

	req, err := http.NewRequest(http.MethodGet, target.URL+"/items?limit=1", nil)
	require.NoError(t, err)
	req.Header.Set("X-Test-Header", "value")

	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(body))

	require.Equal(t, 1, log.Len())
	ex := log.Exchanges()[0]
	assert.Equal(t, http.MethodGet, ex.Method)
	assert.Equal(t, target.URL+"/items?limit=1", ex.URL)
	assert.Equal(t, http.StatusOK, ex.Status)
	assert.Equal(t, "application/json", ex.MimeType)
	assert.Equal(t, "value", ex.ReqHeaders.Get("X-Test-Header"))
	assert.Equal(t, `{"ok":true}`, string(ex.RespBody))
	assert.False(t, ex.StartedAt.IsZero())
}

func TestCaptureProxy_RecordsPostBody(t *testing.T) {
	var receivedBody []byte
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"created":true}`)
	}))
	defer target.Close()

	log, client := startCaptureProxy(t)

	payload := `{"item":"widget","qty":2}`
	resp, err := client.Post(target.URL+"/orders", "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	assert.Equal(t, payload, string(receivedBody), "upstream must still receive the full body")

	require.Equal(t, 1, log.Len())
	ex := log.Exchanges()[0]
	assert.Equal(t, http.MethodPost, ex.Method)
	assert.Equal(t, payload, string(ex.ReqBody))
	assert.Equal(t, `{"created":true}`, string(ex.RespBody))
}

func TestCaptureProxy_DecodesGzipBody(t *testing.T) {
	plaintext := `{"status":"confirmed"}`

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, plaintext)
		gz.Close()
	}))
	defer target.Close()

	log, client := startCaptureProxy(t)

	// Setting Accept-Encoding manually disables the transport's transparent
	// decompression, so the wire bytes stay gzipped end to end.
	req, err := http.NewRequest(http.MethodGet, target.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := client.Do(req)
	require.NoError(t, err)
	wireBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	// The client still sees the encoded stream.
	gz, err := gzip.NewReader(bytes.NewReader(wireBody))
	require.NoError(t, err, "client should have received gzip bytes")
	clientPlain, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, plaintext, string(clientPlain))

	// The log gets the decoded form.
	require.Equal(t, 1, log.Len())
	assert.Equal(t, plaintext, string(log.Exchanges()[0].RespBody))
}

func TestCaptureProxy_TunnelsHTTPSWithoutRecording(t *testing.T) {
	target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello tunnel")
	}))
	defer target.Close()

	log, client := startCaptureProxy(t)

	resp, err := client.Get(target.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello tunnel", string(body))

	// No MITM: tunneled traffic never reaches the recording hooks.
	assert.Zero(t, log.Len())
}

func TestCaptureProxy_UpstreamFailureRecorded(t *testing.T) {
	// Grab a port that is guaranteed to refuse connections.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadURL := "http://" + listener.Addr().String()
	require.NoError(t, listener.Close())

	log, client := startCaptureProxy(t)

	resp, err := client.Get(deadURL + "/orders")
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	require.Eventually(t, func() bool { return log.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ex := log.Exchanges()[0]
	assert.True(t, ex.Failed)
	assert.NotEmpty(t, ex.FailureText)
	assert.Equal(t, deadURL+"/orders", ex.URL)
}

func TestCaptureProxy_ConcurrentRequests(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "response %s", r.URL.Path)
	}))
	defer target.Close()

	log, client := startCaptureProxy(t)

	const concurrency = 20
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			resp, err := client.Get(fmt.Sprintf("%s/req%d", target.URL, i))
			if assert.NoError(t, err) {
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				assert.Equal(t, fmt.Sprintf("response /req%d", i), string(body))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, concurrency, log.Len(), "every request should be recorded")
}

func TestCaptureProxy_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := NewTrafficLog(0)
	proxy := NewProxy(config.ProxyConfig{Enabled: true, Address: "127.0.0.1:0"}, log, zap.NewNop())

	assert.Empty(t, proxy.Addr(), "address is unknown before Start")

	ctx := context.Background()
	require.NoError(t, proxy.Start(ctx))
	assert.NotEmpty(t, proxy.Addr())

	err := proxy.Start(ctx)
	require.Error(t, err, "double Start must be rejected")
	assert.Contains(t, err.Error(), "already started")

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, proxy.Stop(stopCtx))
	require.NoError(t, proxy.Stop(stopCtx), "Stop is idempotent")
}

func TestMimeFromContentType(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want string
	}{
		{"application/json; charset=utf-8", "application/json"},
		{"text/html;charset=ISO-8859-1", "text/html"},
		{"text/plain", "text/plain"},
		{"", ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, mimeFromContentType(tc.in))
		})
	}
}
