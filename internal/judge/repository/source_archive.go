package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"codejudge/internal/common/storage"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultSourcePrefix  = "submissions"
	maxArchivedSourceLen = 4 << 20
)

// SourceArchive stores zstd-compressed submission sources in object storage.
type SourceArchive struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewSourceArchive creates a source archive writing under bucket/prefix.
func NewSourceArchive(objectStorage storage.ObjectStorage, bucket, prefix string) (*SourceArchive, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if prefix == "" {
		prefix = defaultSourcePrefix
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxArchivedSourceLen))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &SourceArchive{
		storage: objectStorage,
		bucket:  bucket,
		prefix:  prefix,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Key returns the object key for submissionID.
func (a *SourceArchive) Key(submissionID string) string {
	return fmt.Sprintf("%s/%s/source.zst", a.prefix, submissionID)
}

// Put compresses and uploads source.
func (a *SourceArchive) Put(ctx context.Context, submissionID, source string) (string, error) {
	key := a.Key(submissionID)
	compressed := a.encoder.EncodeAll([]byte(source), nil)
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), "application/zstd"); err != nil {
		return "", err
	}
	return key, nil
}

// Get downloads and decompresses the source archived for submissionID.
func (a *SourceArchive) Get(ctx context.Context, submissionID string) (string, error) {
	reader, err := a.storage.GetObject(ctx, a.bucket, a.Key(submissionID))
	if err != nil {
		return "", err
	}
	defer reader.Close()

	compressed, err := io.ReadAll(io.LimitReader(reader, maxArchivedSourceLen))
	if err != nil {
		return "", fmt.Errorf("read archived source failed: %w", err)
	}
	data, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", fmt.Errorf("decompress archived source failed: %w", err)
	}
	return string(data), nil
}
