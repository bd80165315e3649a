package chunkstore

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/minsukang/datapilot/apperrors"
)

// S3Store stages chunks as objects under staging/<sessionID>/ in a single
// bucket. Assemble still produces a local file because the parser consumes a
// local path; the staged objects are streamed down in index order.
type S3Store struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

func NewS3Store(client *s3.Client, bucket string, logger *slog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

func (s *S3Store) SessionDir(sessionID string) string {
	return path.Join("staging", sessionID)
}

func (s *S3Store) chunkKey(sessionDir string, index int) string {
	return path.Join(sessionDir, chunkName(index))
}

func (s *S3Store) WriteChunk(ctx context.Context, sessionDir string, index int, data []byte) error {
	key := s.chunkKey(sessionDir, index)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return apperrors.NewIOError("put chunk", key, err)
	}
	return nil
}

func (s *S3Store) Assemble(ctx context.Context, sessionDir string, totalChunks int, destPath string) (int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, apperrors.NewIOError("create output", destPath, err)
	}
	defer out.Close()

	var written int64
	for i := 0; i < totalChunks; i++ {
		key := s.chunkKey(sessionDir, i)
		obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return written, apperrors.NewIOError("get chunk", key, err)
		}

		n, err := io.Copy(out, obj.Body)
		obj.Body.Close()
		if err != nil {
			return written, apperrors.NewIOError("read chunk", key, err)
		}
		written += n
	}

	if err := out.Sync(); err != nil {
		return written, apperrors.NewIOError("sync output", destPath, err)
	}
	return written, nil
}

func (s *S3Store) RemoveSession(ctx context.Context, sessionDir string) error {
	prefix := sessionDir + "/"

	var continuation *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return apperrors.NewIOError("list staging prefix", prefix, err)
		}
		if len(page.Contents) == 0 {
			return nil
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return apperrors.NewIOError("delete staging prefix", prefix, err)
		}

		if page.IsTruncated == nil || !*page.IsTruncated {
			return nil
		}
		continuation = page.NextContinuationToken
	}
}
