package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"dataset-registry/config"
	"dataset-registry/registry"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// ErrIncompleteS3Config is returned when the S3 configuration is incomplete
var ErrIncompleteS3Config = errors.New("incomplete S3 configuration")

var (
	_ registry.RetrieveBackend   = (*S3Backend)(nil)
	_ registry.DatasetRegisterer = (*S3Backend)(nil)
	_ registry.DatasetDeleter    = (*S3Backend)(nil)
)

// Object names kept per dataset.
const (
	readmeObject      = "README.yml"
	manifestObject    = "manifest.json"
	annotationsObject = "annotations.json"
	tagsObject        = "tags.json"
)

var objects = []string{readmeObject, manifestObject, annotationsObject, tagsObject}

// Client is the part of the S3 API the backend uses. *s3.Client satisfies
// it.
type Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Backend implements the retrieve interface using an s3-backed storage
type S3Backend struct {
	S3Client Client
	Timeout  time.Duration
	Bucket   string
	Prefix   string
}

// New creates a new s3-based backend
func New(cfg config.S3Config) (*S3Backend, error) {
	// check for required S3 configuration
	if strings.TrimSpace(cfg.AccessKey) == "" ||
		strings.TrimSpace(cfg.KeyID) == "" ||
		strings.TrimSpace(cfg.Endpoint) == "" ||
		strings.TrimSpace(cfg.Region) == "" ||
		strings.TrimSpace(cfg.Bucket) == "" ||
		strings.TrimSpace(cfg.Timeout) == "" {
		return nil, fmt.Errorf("%w", ErrIncompleteS3Config)
	}
	s3Client := s3.New(s3.Options{
		UsePathStyle: true,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Region:       cfg.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(
				cfg.KeyID,
				cfg.AccessKey,
				"",
			),
		),
	})

	timeoutDuration, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 timeout value: %w", err)
	}

	return NewWithClient(s3Client, cfg.Bucket, cfg.Prefix, timeoutDuration), nil
}

// NewWithClient creates a backend over an existing client.
func NewWithClient(client Client, bucket, prefix string, timeout time.Duration) *S3Backend {
	return &S3Backend{
		S3Client: client,
		Timeout:  timeout,
		Bucket:   bucket,
		Prefix:   strings.Trim(prefix, "/"),
	}
}

// withTimeout bounds a call by Timeout. A zero or negative Timeout leaves
// the deadline to ctx.
func (r *S3Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, r.Timeout)
}

// RegisterDataset uploads the descriptive metadata of info
func (r *S3Backend) RegisterDataset(ctx context.Context, info *registry.DatasetInfo) error {
	if info == nil || info.URI == "" {
		return &registry.ValidationError{Problems: []string{"uri is required"}}
	}

	contents := map[string][]byte{readmeObject: []byte(info.Readme)}
	for name, value := range map[string]any{
		manifestObject:    orEmpty(info.Manifest),
		annotationsObject: orEmpty(info.Annotations),
		tagsObject:        orEmptyList(info.Tags),
	} {
		data, err := json.Marshal(value)
		if err != nil {
			return &registry.ValidationError{Problems: []string{fmt.Sprintf("%s: %v", name, err)}}
		}
		contents[name] = data
	}

	uploader := manager.NewUploader(r.S3Client)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	for _, name := range objects {
		result, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(r.Bucket),
			Key:    aws.String(r.objectKey(info.URI, name)),
			Body:   bytes.NewReader(contents[name]),
		})
		if err != nil {
			var mu manager.MultiUploadFailure
			if errors.As(err, &mu) {
				log.Error().
					Str("upload_id", mu.UploadID()).
					Err(mu).
					Msg("multi-upload failure")

				return fmt.Errorf(
					"multi-upload failure (upload_id: %s): %w",
					mu.UploadID(),
					mu,
				)
			}

			log.Error().Err(err).Str("object", name).Msg("upload failure")

			return fmt.Errorf("upload failure: %w", err)
		}

		log.Debug().
			Str("location", result.Location).
			Msg("successfully uploaded dataset metadata to s3 bucket")
	}

	return nil
}

// DeleteDataset removes the objects of uri. Deleting absent objects
// succeeds.
func (r *S3Backend) DeleteDataset(ctx context.Context, uri string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	for _, name := range objects {
		_, err := r.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(r.Bucket),
			Key:    aws.String(r.objectKey(uri, name)),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete dataset metadata from S3: %w", err)
		}
	}

	return nil
}

func (r *S3Backend) GetReadme(ctx context.Context, uri string) (string, error) {
	content, err := r.get(ctx, uri, readmeObject)
	if err != nil {
		return "", err
	}

	return string(content), nil
}

func (r *S3Backend) GetManifest(ctx context.Context, uri string) (map[string]any, error) {
	manifest := map[string]any{}
	if err := r.decode(ctx, uri, manifestObject, &manifest); err != nil {
		return nil, err
	}

	return manifest, nil
}

func (r *S3Backend) GetAnnotations(ctx context.Context, uri string) (map[string]any, error) {
	annotations := map[string]any{}
	if err := r.decode(ctx, uri, annotationsObject, &annotations); err != nil {
		return nil, err
	}

	return annotations, nil
}

func (r *S3Backend) GetTags(ctx context.Context, uri string) ([]string, error) {
	tags := []string{}
	if err := r.decode(ctx, uri, tagsObject, &tags); err != nil {
		return nil, err
	}

	return tags, nil
}

func (r *S3Backend) decode(ctx context.Context, uri, name string, target any) error {
	content, err := r.get(ctx, uri, name)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(content, target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}

	return nil
}

func (r *S3Backend) get(ctx context.Context, uri, name string) ([]byte, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	object, err := r.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.objectKey(uri, name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &registry.UnknownURIError{URI: uri}
		}

		return nil, fmt.Errorf("failed to get %s from S3: %w", name, err)
	}

	if object.Body == nil {
		return []byte{}, nil
	}
	defer func() {
		if cerr := object.Body.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("failed to close S3 object body")
		}
	}()

	content, err := io.ReadAll(object.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return content, nil
}

func isNotFound(err error) bool {
	var notFoundErr *types.NotFound
	var noSuchKeyErr *types.NoSuchKey

	return errors.As(err, &notFoundErr) || errors.As(err, &noSuchKeyErr)
}

// objectKey returns the object key of one metadata object of a dataset
func (r *S3Backend) objectKey(uri, name string) string {
	hash := sha256.Sum256([]byte(uri))

	return path.Join(r.Prefix, hex.EncodeToString(hash[:]), name)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

func orEmptyList(l []string) []string {
	if l == nil {
		return []string{}
	}

	return l
}
