// Package remote keeps offsite copies of snapshot files in S3 compatible
// object storage.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"tabsnap/internal/checksum"
	"tabsnap/internal/manifest"
)

// snapshotDir is the key prefix, below the configured prefix, that holds
// snapshot copies.
const snapshotDir = "snapshots"

const (
	metaChecksum = "blake3"
	snapshotTag  = "content=table-snapshot"
	partSize     = 16 * 1024 * 1024
)

// ErrNotFound is returned by Head for a key that does not exist.
var ErrNotFound = errors.New("object not found")

type ObjectInfo struct {
	Size   int64
	Blake3 string
}

type Backend interface {
	Upload(ctx context.Context, localPath, remotePath, checksumHash string) error
	Download(ctx context.Context, remotePath, localPath string) error
	Head(ctx context.Context, remotePath string) (*ObjectInfo, error)
	VerifyCredentials(ctx context.Context) error
}

// SnapshotKey returns the remote path of a snapshot file.
func SnapshotKey(fileName string) string {
	return path.Join(snapshotDir, fileName)
}

type Options struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
	// StorageClass must be one that can be read back without a restore.
	StorageClass types.StorageClass
	MaxAttempts  int
	Logger       *slog.Logger
}

type S3 struct {
	client       *s3.Client
	uploader     *manager.Uploader
	bucket       string
	prefix       string
	storageClass types.StorageClass
	logger       *slog.Logger
}

func NewS3(ctx context.Context, opts Options) (*S3, error) {
	if opts.StorageClass == "" {
		return nil, fmt.Errorf("storage class must be specified")
	}
	if err := ValidateStorageClass(string(opts.StorageClass)); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.MaxAttempts > 0 {
		loadOpts = append(loadOpts,
			awsconfig.WithRetryMaxAttempts(opts.MaxAttempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
	}
	// Self-hosted endpoints (MinIO and friends) take static keys from the
	// environment instead of the default chain.
	if opts.Endpoint != "" {
		accessKey, secretKey := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if accessKey != "" && secretKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
		}
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Debug("S3 backend ready", "bucket", opts.Bucket, "region", opts.Region,
		"endpoint", opts.Endpoint, "storageClass", opts.StorageClass, "maxAttempts", opts.MaxAttempts)

	return &S3{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket:       opts.Bucket,
		prefix:       opts.Prefix,
		storageClass: opts.StorageClass,
		logger:       logger,
	}, nil
}

func (s *S3) key(remotePath string) string {
	return path.Join(s.prefix, filepath.ToSlash(remotePath))
}

// Download writes the object to localPath. The file only appears under its
// final name once the download is complete.
func (s *S3) Download(ctx context.Context, remotePath, localPath string) error {
	key := s.key(remotePath)
	partial := localPath + ".part"

	file, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	n, err := manager.NewDownloader(s.client).Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("failed to download %s: %w", key, err)
	}

	if err := os.Rename(partial, localPath); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	s.logger.Info("Downloaded snapshot", "bucket", s.bucket, "key", key, "bytes", n)
	return nil
}

func (s *S3) Upload(ctx context.Context, localPath, remotePath, checksumHash string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	key := s.key(remotePath)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         file,
		ContentType:  aws.String(contentType(localPath)),
		StorageClass: s.storageClass,
		Tagging:      aws.String(snapshotTag),
		Metadata:     map[string]string{metaChecksum: checksumHash},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.logger.Info("Uploaded snapshot", "bucket", s.bucket, "key", key, "storageClass", s.storageClass)
	return nil
}

func (s *S3) Head(ctx context.Context, remotePath string) (*ObjectInfo, error) {
	key := s.key(remotePath)

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to head %s: %w", key, err)
	}

	info := &ObjectInfo{Size: aws.ToInt64(out.ContentLength)}
	if out.Metadata != nil {
		info.Blake3 = out.Metadata[metaChecksum]
	}
	return info, nil
}

func (s *S3) VerifyCredentials(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to access bucket %s: %w", s.bucket, err)
	}
	s.logger.Debug("S3 bucket reachable", "bucket", s.bucket)
	return nil
}

func contentType(localPath string) string {
	if strings.HasSuffix(localPath, ".gz") {
		return "application/gzip"
	}
	return "application/json"
}

// ValidateStorageClass rejects archive classes, whose objects cannot be read
// back without a separate restore request.
func ValidateStorageClass(storageClass string) error {
	switch types.StorageClass(storageClass) {
	case types.StorageClassGlacier, types.StorageClassDeepArchive:
		return fmt.Errorf("storage class %s is not immediately accessible (requires restore)", storageClass)
	}
	return nil
}

// PushSnapshot uploads the snapshot file at localPath, recording the BLAKE3
// digest of the file as object metadata.
func PushSnapshot(ctx context.Context, b Backend, localPath string) (string, error) {
	digest, err := checksum.File(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to hash snapshot: %w", err)
	}
	key := SnapshotKey(filepath.Base(localPath))
	if err := b.Upload(ctx, localPath, key, digest); err != nil {
		return "", err
	}
	return key, nil
}

// FetchSnapshot downloads snapshot id into dir and checks the file against
// the digest stored with the object. The plain file name is tried before the
// compressed one.
func FetchSnapshot(ctx context.Context, b Backend, id, dir string) (string, error) {
	for _, compressed := range []bool{false, true} {
		name := manifest.FileName(id, compressed)
		key := SnapshotKey(name)

		info, err := b.Head(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}

		localPath := filepath.Join(dir, name)
		if err := b.Download(ctx, key, localPath); err != nil {
			return "", err
		}

		if info.Blake3 != "" {
			got, err := checksum.File(localPath)
			if err != nil {
				return "", fmt.Errorf("failed to hash downloaded snapshot: %w", err)
			}
			if got != info.Blake3 {
				_ = os.Remove(localPath)
				return "", fmt.Errorf("downloaded snapshot %s does not match its stored checksum", name)
			}
		}
		return localPath, nil
	}
	return "", fmt.Errorf("snapshot %s not found in remote storage", id)
}
