package fiomark

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tcnksm/go-httpstat"
)

// Abstraction of the place exported dashboards are published to (directory, bucket, ...)
type ArtifactStore interface {
	CreateBucket(ctx context.Context, bucketName string) (Timing, error)
	PutObject(ctx context.Context, bucketName string, key string, reader *bytes.Reader, contentType string) (Timing, error)
	GetObject(ctx context.Context, bucketName string, key string) (Timing, io.ReadCloser, error)
	DeleteObject(ctx context.Context, bucketName string, key string) (Timing, error)
}

// Timing splits the duration of one HTTP exchange into its phases.
type Timing struct {
	DNSLookup        time.Duration `json:"dns_lookup"`
	TCPConnection    time.Duration `json:"tcp_connection"`
	TLSHandshake     time.Duration `json:"tls_handshake"`
	ServerProcessing time.Duration `json:"server_processing"`
	Total            time.Duration `json:"total"`
}

// TimingFromStat copies the phases httpstat recorded for a request.
func TimingFromStat(result *httpstat.Result, total time.Duration) Timing {
	return Timing{
		DNSLookup:        result.DNSLookup,
		TCPConnection:    result.TCPConnection,
		TLSHandshake:     result.TLSHandshake,
		ServerProcessing: result.ServerProcessing,
		Total:            total,
	}
}

func (t Timing) Unassigned() time.Duration {
	return t.Total - t.DNSLookup - t.TCPConnection - t.TLSHandshake - t.ServerProcessing
}

func (t Timing) String() string {
	lines := []string{
		fmt.Sprintf("DNS lookup: %d ms", t.DNSLookup.Milliseconds()),
		fmt.Sprintf("TCP connection: %d ms", t.TCPConnection.Milliseconds()),
		fmt.Sprintf("TLS handshake: %d ms", t.TLSHandshake.Milliseconds()),
		fmt.Sprintf("Server processing: %d ms", t.ServerProcessing.Milliseconds()),
		fmt.Sprintf("Unassigned: %d ms", t.Unassigned().Milliseconds()),
		fmt.Sprintf("Total: %d ms", t.Total.Milliseconds()),
	}
	return strings.Join(lines, ", ")
}
