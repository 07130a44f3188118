package agentlink

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"log/slog"
	"math/big"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"
)

func testLogHandler(emitter string) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(emitter)},
	})
}

// counterWith adds up the counters named key carrying label=value.
func counterWith(sink *metrics.InmemSink, key []string, label TelemetryLabel, value string) float64 {
	name := strings.Join(key, ".")
	tag := ";" + string(label) + "=" + value
	var sum float64
	for _, intv := range sink.Data() {
		intv.RLock()
		for k, v := range intv.Counters {
			if strings.HasPrefix(k, name+";") && strings.Contains(k, tag) {
				sum += v.Sum
			}
		}
		intv.RUnlock()
	}
	return sum
}

func newTestSink() *metrics.InmemSink {
	return metrics.NewInmemSink(time.Second, 5*time.Minute)
}

// counterSum adds up every counter named key, whatever its labels.
func counterSum(sink *metrics.InmemSink, key []string) float64 {
	name := strings.Join(key, ".")
	var sum float64
	for _, intv := range sink.Data() {
		intv.RLock()
		for k, v := range intv.Counters {
			if k == name || strings.HasPrefix(k, name+";") {
				sum += v.Sum
			}
		}
		intv.RUnlock()
	}
	return sum
}

// startTransport starts a transport on an ephemeral loopback port.
func startTransport(t *testing.T, emitter string, opts ...Option) (*Transport, *metrics.InmemSink) {
	t.Helper()
	sink := newTestSink()
	base := []Option{
		WithListenOn("127.0.0.1", 0),
		WithName(emitter),
		WithLog(testLogHandler(emitter)),
		WithMetricSink(sink),
	}

	tr, err := New(append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, tr.Start())
	t.Cleanup(func() { tr.Stop() })
	return tr, sink
}

func dialTCP(t *testing.T, tr *Transport) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", tr.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func generateKeyPair(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %s", err)
		return nil
	}
	return key
}

func generateCa(t *testing.T, pkey *ecdsa.PrivateKey) []byte {
	t.Helper()
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("failed to generate serialNumber: %s", err)
	}
	tmpl := x509.Certificate{
		Subject: pkix.Name{
			CommonName: "agentlink test ca",
		},
		SerialNumber:          serialNumber,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(1 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &pkey.PublicKey, pkey)
	if err != nil {
		t.Fatalf("failed to generate CA: %s", err)
		return nil
	}
	return certDER
}

func generateLeaf(t *testing.T, ca *x509.Certificate, caKP, leafKP *ecdsa.PrivateKey, cn string) []byte {
	t.Helper()
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("failed to generate serialNumber: %s", err)
	}
	tmpl := x509.Certificate{
		Subject: pkix.Name{
			CommonName: cn,
		},
		SerialNumber: serialNumber,
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(1 * time.Hour),
		IPAddresses: []net.IP{
			{127, 0, 0, 1},
		},
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, ca, &leafKP.PublicKey, caKP)
	if err != nil {
		t.Fatalf("failed to generate leaf: %s", err)
		return nil
	}
	return certDER
}

// tlsPair returns a server config for the agent side and the matching
// client config for the controller side.
func tlsPair(t *testing.T) (server, client *tls.Config) {
	t.Helper()
	caKey := generateKeyPair(t)
	leafKey := generateKeyPair(t)

	ca, err := x509.ParseCertificate(generateCa(t, caKey))
	require.NoError(t, err)

	leafDER := generateLeaf(t, ca, caKey, leafKey, "agent")
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(ca)

	server = &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{leafDER},
			Leaf:        leaf,
			PrivateKey:  leafKey,
		}},
		NextProtos: []string{ALPN},
	}
	client = &tls.Config{
		RootCAs:    pool,
		ServerName: "127.0.0.1",
		NextProtos: []string{ALPN},
	}
	return server, client
}
