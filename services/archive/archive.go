// Package archive stores finished scan reports in object storage as
// zstd-compressed JSON and SARIF documents.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	gos3 "codeshield/pkg/s3"
)

// Report formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
)

// DefaultURLTTL is the lifetime of presigned report URLs.
const DefaultURLTTL = 15 * time.Minute

const keyPrefix = "scans"

// ErrUnknownFormat is returned for formats other than json and sarif.
var ErrUnknownFormat = errors.New("archive: unknown report format")

// Store is the object storage used by Archive. *s3.Client satisfies it.
type Store interface {
	Put(ctx context.Context, bucket string, obj gos3.Object) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Archive writes and reads report objects under scans/<id>/.
type Archive struct {
	store  Store
	bucket string
	ttl    time.Duration
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// New returns an Archive over bucket. A non-positive ttl selects DefaultURLTTL.
func New(store Store, bucket string, ttl time.Duration) (*Archive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if store == nil {
		return nil, errors.New("s3 client is required")
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &Archive{store: store, bucket: bucket, ttl: ttl, enc: enc, dec: dec}, nil
}

// Key returns the object key for a scan report in format.
func Key(scanID, format string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(scanID))
	if err != nil {
		return "", fmt.Errorf("archive: invalid scan id %q", scanID)
	}
	switch format {
	case FormatJSON, FormatSARIF:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return path.Join(keyPrefix, id.String(), "report."+format+".zst"), nil
}

func contentType(format string) string {
	if format == FormatSARIF {
		return "application/sarif+json"
	}
	return "application/json"
}

// Archive compresses and uploads the report and its SARIF rendering and
// returns the keys written, JSON first.
func (a *Archive) Archive(ctx context.Context, scanID string, report, sarif []byte) ([]string, error) {
	docs := []struct {
		format string
		body   []byte
	}{
		{FormatJSON, report},
		{FormatSARIF, sarif},
	}

	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		key, err := Key(scanID, doc.format)
		if err != nil {
			return nil, err
		}
		obj := gos3.Object{
			Key:             key,
			Body:            a.enc.EncodeAll(doc.body, nil),
			ContentType:     contentType(doc.format),
			ContentEncoding: "zstd",
			Metadata:        map[string]string{"scan-id": scanID, "format": doc.format},
		}
		if err := a.store.Put(ctx, a.bucket, obj); err != nil {
			return nil, fmt.Errorf("upload %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Load downloads and decompresses a stored report.
func (a *Archive) Load(ctx context.Context, scanID, format string) ([]byte, error) {
	key, err := Key(scanID, format)
	if err != nil {
		return nil, err
	}
	compressed, err := a.store.Get(ctx, a.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	out, err := a.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	return out, nil
}

// URL returns a presigned download URL for a stored report.
func (a *Archive) URL(ctx context.Context, scanID, format string) (string, error) {
	key, err := Key(scanID, format)
	if err != nil {
		return "", err
	}
	return a.store.PresignGet(ctx, a.bucket, key, a.ttl)
}

// TTL is the lifetime of URLs returned by URL.
func (a *Archive) TTL() time.Duration { return a.ttl }

// Close releases the codec resources.
func (a *Archive) Close() {
	if a == nil {
		return
	}
	a.enc.Close()
	a.dec.Close()
}
