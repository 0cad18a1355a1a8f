package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/pkg/security"
)

// startPeerEchoServer serves HTTPS with the given TLS config and reports in
// the X-Peer-Cert header whether the client presented a certificate.
func startPeerEchoServer(t *testing.T, cfg *tls.Config) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer := "absent"
		if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
			peer = "present"
		}
		w.Header().Set("X-Peer-Cert", peer)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := httptest.NewUnstartedServer(handler)
	server.TLS = cfg
	server.StartTLS()
	t.Cleanup(server.Close)
	return server
}

func httpsClient(cfg *tls.Config) *http.Client {
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: cfg},
	}
}

// TestMutualTLSHandshake drives real handshakes between a server and client
// whose tls.Configs both come from this package, across the combinations of
// required, optional and allowlisted client certificates.
func TestMutualTLSHandshake(t *testing.T) {
	tests := []struct {
		name        string
		clientCN    string
		presentCert bool
		requireCert bool
		allowedCNs  []string
		wantErr     bool
		wantPeer    string
	}{
		{
			name:        "required certificate accepted",
			clientCN:    "edge-agent-7",
			presentCert: true,
			requireCert: true,
			wantPeer:    "present",
		},
		{
			name:        "required certificate missing",
			clientCN:    "edge-agent-7",
			requireCert: true,
			wantErr:     true,
		},
		{
			name:        "optional certificate presented",
			clientCN:    "edge-agent-7",
			presentCert: true,
			wantPeer:    "present",
		},
		{
			name:     "optional certificate absent",
			clientCN: "edge-agent-7",
			wantPeer: "absent",
		},
		{
			name:        "allowlisted common name accepted",
			clientCN:    "edge-agent-7",
			presentCert: true,
			requireCert: true,
			allowedCNs:  []string{"edge-agent-7", "edge-agent-9"},
			wantPeer:    "present",
		},
		{
			name:        "unlisted common name rejected",
			clientCN:    "rogue-agent",
			presentCert: true,
			requireCert: true,
			allowedCNs:  []string{"edge-agent-7", "edge-agent-9"},
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverPKI := newPKI(t, "localhost", x509.ExtKeyUsageServerAuth)
			clientPKI := newPKI(t, tt.clientCN, x509.ExtKeyUsageClientAuth)

			serverTLS, err := LoadServerTLSConfigWithMTLS(
				security.ServerTLSConfig{
					Enabled:  true,
					CertFile: serverPKI.certFile,
					KeyFile:  serverPKI.keyFile,
				},
				security.ServerMTLSConfig{
					Enabled:           true,
					ClientCAFiles:     []string{clientPKI.caFile},
					RequireClientCert: tt.requireCert,
					AllowedClientCNs:  tt.allowedCNs,
				},
			)
			require.NoError(t, err)
			server := startPeerEchoServer(t, serverTLS)

			clientTLS, err := LoadClientTLSConfigWithMTLS(
				// The httptest listener lives on 127.0.0.1 with a cert for
				// localhost, so the server name never matches.
				security.ClientTLSConfig{InsecureSkipVerify: true},
				security.ClientMTLSConfig{
					Enabled:  tt.presentCert,
					CertFile: clientPKI.certFile,
					KeyFile:  clientPKI.keyFile,
				},
			)
			require.NoError(t, err)

			resp, err := httpsClient(clientTLS).Get(server.URL)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorContains(t, err, "tls")
				return
			}
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.wantPeer, resp.Header.Get("X-Peer-Cert"))
		})
	}
}

// TestServerTLSWithoutMutualAuth covers the plain TLS path: an empty mutual
// auth config must not demand certificates from ordinary clients.
func TestServerTLSWithoutMutualAuth(t *testing.T) {
	serverPKI := newPKI(t, "localhost", x509.ExtKeyUsageServerAuth)

	serverTLS, err := LoadServerTLSConfigWithMTLS(
		security.ServerTLSConfig{
			Enabled:  true,
			CertFile: serverPKI.certFile,
			KeyFile:  serverPKI.keyFile,
		},
		security.ServerMTLSConfig{},
	)
	require.NoError(t, err)
	assert.Equal(t, tls.NoClientCert, serverTLS.ClientAuth)

	server := startPeerEchoServer(t, serverTLS)

	resp, err := httpsClient(&tls.Config{InsecureSkipVerify: true}).Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
	assert.Equal(t, "absent", resp.Header.Get("X-Peer-Cert"))
}

// TestTrustedCARoundTrip exercises the client-side trust path without
// InsecureSkipVerify: the server certificate verifies against the CA file
// the client was configured with.
func TestTrustedCARoundTrip(t *testing.T) {
	serverPKI := newPKI(t, "localhost", x509.ExtKeyUsageServerAuth)

	serverTLS, err := LoadServerTLSConfig(security.ServerTLSConfig{
		Enabled:  true,
		CertFile: serverPKI.certFile,
		KeyFile:  serverPKI.keyFile,
	})
	require.NoError(t, err)
	server := startPeerEchoServer(t, serverTLS)

	clientTLS, err := LoadClientTLSConfig(security.ClientTLSConfig{
		CAFiles: []string{serverPKI.caFile},
	})
	require.NoError(t, err)

	resp, err := httpsClient(clientTLS).Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
