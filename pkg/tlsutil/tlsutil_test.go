package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/pkg/security"
)

// testPKI is a throwaway certificate authority written to disk: the CA
// certificate plus one keypair it issued.
type testPKI struct {
	caFile   string
	certFile string
	keyFile  string
}

// newPKI builds a CA, issues one certificate for cn with the given extended
// key usage, and writes all three PEM files under a test temp dir.
func newPKI(t *testing.T, cn string, usage x509.ExtKeyUsage) testPKI {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn + " test ca", Organization: []string{"AssetMesh Test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"AssetMesh Test"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(leafKey)
	require.NoError(t, err)

	dir := t.TempDir()
	pki := testPKI{
		caFile:   filepath.Join(dir, "ca.pem"),
		certFile: filepath.Join(dir, "cert.pem"),
		keyFile:  filepath.Join(dir, "key.pem"),
	}
	writePEM(t, pki.caFile, "CERTIFICATE", caDER)
	writePEM(t, pki.certFile, "CERTIFICATE", leafDER)
	writePEM(t, pki.keyFile, "EC PRIVATE KEY", keyDER)
	return pki
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

// leafCert parses the issued certificate back from disk.
func (p testPKI) leafCert(t *testing.T) *x509.Certificate {
	t.Helper()
	pemData, err := os.ReadFile(p.certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(pemData)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

// junkFile writes a file that is not valid PEM.
func junkFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "junk.pem")
	require.NoError(t, os.WriteFile(path, []byte("this is not a certificate"), 0o600))
	return path
}

func TestLoadServerTLSConfig(t *testing.T) {
	pki := newPKI(t, "localhost", x509.ExtKeyUsageServerAuth)

	tests := []struct {
		name       string
		cfg        security.ServerTLSConfig
		wantNil    bool
		wantErr    bool
		minVersion uint16
	}{
		{
			name:    "disabled returns nil config",
			cfg:     security.ServerTLSConfig{},
			wantNil: true,
		},
		{
			name: "minimum version 1.3",
			cfg: security.ServerTLSConfig{
				Enabled: true, CertFile: pki.certFile, KeyFile: pki.keyFile, MinVersion: "1.3",
			},
			minVersion: tls.VersionTLS13,
		},
		{
			name: "minimum version 1.2",
			cfg: security.ServerTLSConfig{
				Enabled: true, CertFile: pki.certFile, KeyFile: pki.keyFile, MinVersion: "1.2",
			},
			minVersion: tls.VersionTLS12,
		},
		{
			name: "unset minimum defaults to 1.2",
			cfg: security.ServerTLSConfig{
				Enabled: true, CertFile: pki.certFile, KeyFile: pki.keyFile,
			},
			minVersion: tls.VersionTLS12,
		},
		{
			name: "missing certificate file",
			cfg: security.ServerTLSConfig{
				Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: pki.keyFile,
			},
			wantErr: true,
		},
		{
			name: "missing key file",
			cfg: security.ServerTLSConfig{
				Enabled: true, CertFile: pki.certFile, KeyFile: "/nonexistent/key.pem",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadServerTLSConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err), "certificate load failures are fatal")
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Len(t, got.Certificates, 1)
			assert.Equal(t, tt.minVersion, got.MinVersion)
		})
	}
}

func TestLoadClientTLSConfig(t *testing.T) {
	pki := newPKI(t, "localhost", x509.ExtKeyUsageServerAuth)

	tests := []struct {
		name    string
		cfg     security.ClientTLSConfig
		wantErr bool
		check   func(*testing.T, *tls.Config)
	}{
		{
			name: "defaults use the system pool",
			cfg:  security.ClientTLSConfig{},
			check: func(t *testing.T, got *tls.Config) {
				assert.NotNil(t, got.RootCAs)
				assert.Equal(t, uint16(tls.VersionTLS12), got.MinVersion)
				assert.False(t, got.InsecureSkipVerify)
			},
		},
		{
			name: "extra trusted CAs append to the pool",
			cfg:  security.ClientTLSConfig{CAFiles: []string{pki.caFile, pki.caFile}},
			check: func(t *testing.T, got *tls.Config) {
				assert.NotNil(t, got.RootCAs)
			},
		},
		{
			name: "minimum version 1.3",
			cfg:  security.ClientTLSConfig{MinVersion: "1.3"},
			check: func(t *testing.T, got *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), got.MinVersion)
			},
		},
		{
			name: "insecure skip verify passes through",
			cfg:  security.ClientTLSConfig{InsecureSkipVerify: true},
			check: func(t *testing.T, got *tls.Config) {
				assert.True(t, got.InsecureSkipVerify)
			},
		},
		{
			name:    "missing CA file",
			cfg:     security.ClientTLSConfig{CAFiles: []string{"/nonexistent/ca.pem"}},
			wantErr: true,
		},
		{
			name:    "CA file that is not PEM",
			cfg:     security.ClientTLSConfig{CAFiles: []string{junkFile(t)}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadClientTLSConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got)
			tt.check(t, got)
		})
	}
}

func TestParseTLSVersion(t *testing.T) {
	tests := []struct {
		version string
		want    uint16
	}{
		{"1.3", tls.VersionTLS13},
		{"1.2", tls.VersionTLS12},
		{"", tls.VersionTLS12},
		{"1.1", tls.VersionTLS12},
		{"garbage", tls.VersionTLS12},
	}

	for _, tt := range tests {
		t.Run("version "+tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, parseTLSVersion(tt.version))
		})
	}
}

func TestLoadServerTLSConfigWithMTLS(t *testing.T) {
	server := newPKI(t, "localhost", x509.ExtKeyUsageServerAuth)
	client := newPKI(t, "edge-agent-7", x509.ExtKeyUsageClientAuth)

	serverCfg := security.ServerTLSConfig{
		Enabled: true, CertFile: server.certFile, KeyFile: server.keyFile,
	}

	tests := []struct {
		name     string
		mtls     security.ServerMTLSConfig
		wantErr  bool
		wantAuth tls.ClientAuthType
		wantCAs  bool
		wantHook bool
	}{
		{
			name:     "mutual auth disabled",
			mtls:     security.ServerMTLSConfig{},
			wantAuth: tls.NoClientCert,
		},
		{
			name: "client certificate required",
			mtls: security.ServerMTLSConfig{
				Enabled: true, ClientCAFiles: []string{client.caFile}, RequireClientCert: true,
			},
			wantAuth: tls.RequireAndVerifyClientCert,
			wantCAs:  true,
		},
		{
			name: "client certificate optional",
			mtls: security.ServerMTLSConfig{
				Enabled: true, ClientCAFiles: []string{client.caFile},
			},
			wantAuth: tls.VerifyClientCertIfGiven,
			wantCAs:  true,
		},
		{
			name: "allowlist installs verification hook",
			mtls: security.ServerMTLSConfig{
				Enabled:           true,
				ClientCAFiles:     []string{client.caFile},
				RequireClientCert: true,
				AllowedClientCNs:  []string{"edge-agent-7"},
			},
			wantAuth: tls.RequireAndVerifyClientCert,
			wantCAs:  true,
			wantHook: true,
		},
		{
			name: "missing client CA file",
			mtls: security.ServerMTLSConfig{
				Enabled: true, ClientCAFiles: []string{"/nonexistent/ca.pem"},
			},
			wantErr: true,
		},
		{
			name: "client CA file that is not PEM",
			mtls: security.ServerMTLSConfig{
				Enabled: true, ClientCAFiles: []string{junkFile(t)},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadServerTLSConfigWithMTLS(serverCfg, tt.mtls)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantAuth, got.ClientAuth)
			assert.Equal(t, tt.wantCAs, got.ClientCAs != nil)
			assert.Equal(t, tt.wantHook, got.VerifyPeerCertificate != nil)
		})
	}
}

func TestVerifyAllowedClientCN(t *testing.T) {
	agent := newPKI(t, "edge-agent-7", x509.ExtKeyUsageClientAuth).leafCert(t)
	rogue := newPKI(t, "rogue-agent", x509.ExtKeyUsageClientAuth).leafCert(t)

	allowed := []string{"edge-agent-7", "edge-agent-9"}

	tests := []struct {
		name    string
		chains  [][]*x509.Certificate
		wantErr string
	}{
		{"listed CN accepted", [][]*x509.Certificate{{agent}}, ""},
		{"unlisted CN rejected", [][]*x509.Certificate{{rogue}}, "not in allowed list"},
		{"no verified chains", nil, "no verified certificate chains"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyAllowedClientCN(tt.chains, allowed)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadClientTLSConfigWithMTLS(t *testing.T) {
	client := newPKI(t, "edge-agent-7", x509.ExtKeyUsageClientAuth)
	base := security.ClientTLSConfig{CAFiles: []string{client.caFile}}

	t.Run("disabled presents no certificate", func(t *testing.T) {
		got, err := LoadClientTLSConfigWithMTLS(base, security.ClientMTLSConfig{})
		require.NoError(t, err)
		assert.Empty(t, got.Certificates)
	})

	t.Run("enabled loads the keypair", func(t *testing.T) {
		got, err := LoadClientTLSConfigWithMTLS(base, security.ClientMTLSConfig{
			Enabled: true, CertFile: client.certFile, KeyFile: client.keyFile,
		})
		require.NoError(t, err)
		require.Len(t, got.Certificates, 1)

		leaf, err := x509.ParseCertificate(got.Certificates[0].Certificate[0])
		require.NoError(t, err)
		assert.Equal(t, "edge-agent-7", leaf.Subject.CommonName)
	})

	t.Run("missing certificate file", func(t *testing.T) {
		_, err := LoadClientTLSConfigWithMTLS(base, security.ClientMTLSConfig{
			Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: client.keyFile,
		})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := LoadClientTLSConfigWithMTLS(base, security.ClientMTLSConfig{
			Enabled: true, CertFile: client.certFile, KeyFile: "/nonexistent/key.pem",
		})
		require.Error(t, err)
	})
}
