package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"chara-go/internal/chara"
	"chara-go/internal/config"
)

// Environment variables holding static credentials for S3-compatible
// services. Without them the default AWS credential chain is used.
const (
	EnvS3AccessKeyID     = "CHARA_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "CHARA_S3_SECRET_ACCESS_KEY"
)

// versionMetaKey is the object metadata key carrying a metadata item's version.
const versionMetaKey = "chara-version"

// s3Client is the subset of the S3 API the vault uses.
type s3Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Vault stores snapshots and metadata in an S3 bucket:
//
//	<prefix>content/<checksum>
//	<prefix>metadata/<hostID>/<name>   (version in object metadata)
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3Client
	uploader *manager.Uploader
}

// NewS3Vault builds an S3 client from the default AWS configuration,
// overridden by the region, endpoint and credentials given in cfg.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if key := os.Getenv(EnvS3AccessKeyID); key != "" {
		provider := credentials.NewStaticCredentialsProvider(key, os.Getenv(EnvS3SecretAccessKey), "")
		opts = append(opts, awsconfig.WithCredentialsProvider(provider))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3VaultWithClient(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func newS3VaultWithClient(name, bucket, prefix string, client s3Client) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (v *S3Vault) contentKey(checksum string) string {
	return v.prefix + path.Join("content", checksum)
}

func (v *S3Vault) metadataKey(hostID, name string) string {
	return v.prefix + path.Join("metadata", hostID, name)
}

// PutContent uploads content under its checksum. Content already present
// is not uploaded again.
func (v *S3Vault) PutContent(checksum string, r io.Reader, size int64) error {
	ctx := context.Background()
	key := v.contentKey(checksum)

	exists, err := v.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return v.upload(ctx, key, r, size, nil)
}

// HasContent reports whether content with the checksum is stored.
func (v *S3Vault) HasContent(checksum string) (bool, error) {
	return v.exists(context.Background(), v.contentKey(checksum))
}

// GetContent downloads content by checksum and writes it to w.
func (v *S3Vault) GetContent(checksum string, w io.Writer) error {
	return v.download(context.Background(), v.contentKey(checksum), w, fmt.Sprintf("content not found: %s", checksum))
}

// PutMetadata uploads a named metadata item for a host. The version is
// stored as object metadata.
func (v *S3Vault) PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error {
	meta := map[string]string{versionMetaKey: strconv.FormatInt(version, 10)}
	return v.upload(context.Background(), v.metadataKey(hostID, name), r, size, meta)
}

// GetMetadata downloads a named metadata item for a host and writes it to w.
func (v *S3Vault) GetMetadata(hostID string, name string, w io.Writer) error {
	return v.download(context.Background(), v.metadataKey(hostID, name), w, fmt.Sprintf("metadata %q not found for host: %s", name, hostID))
}

// GetMetadataVersion returns the version of a metadata item, or 0 when it
// has never been stored.
func (v *S3Vault) GetMetadataVersion(hostID string, name string) (int64, error) {
	out, err := v.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.metadataKey(hostID, name)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading metadata version: %w", err)
	}
	raw, ok := out.Metadata[versionMetaKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup() error {
	_, err := v.client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Vault) exists(ctx context.Context, key string) (bool, error) {
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking object %s: %w", key, err)
}

// upload buffers the body so the size can be verified before anything is
// written to the bucket. Card images are small.
func (v *S3Vault) upload(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error {
	var buf bytes.Buffer
	written, err := io.Copy(&buf, r)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(buf.Bytes()),
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

func (v *S3Vault) download(ctx context.Context, key string, w io.Writer, notFoundMsg string) error {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return errors.New(notFoundMsg)
		}
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

var _ chara.Vault = (*S3Vault)(nil)
