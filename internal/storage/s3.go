package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Xiaobaiq-q/DataLake/internal/config"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// DeleteObjects accepts at most 1000 keys per call.
const deleteBatchSize = 1000

// NewSession builds an AWS session from explicit credentials.
func NewSession(cfg config.AWSConfig) (*session.Session, error) {
	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return sess, nil
}

type S3Store struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	root     Location
	log      *zap.Logger
}

func NewS3Store(client s3iface.S3API, uploader s3manageriface.UploaderAPI, root Location, log *zap.Logger) *S3Store {
	return &S3Store{
		client:   client,
		uploader: uploader,
		root:     root,
		log:      log,
	}
}

func (s *S3Store) Root() Location { return s.root }

func (s *S3Store) List(ctx context.Context, pattern string) ([]string, error) {
	// Only list under the literal part of the pattern.
	base, _ := doublestar.SplitPattern(pattern)
	prefix := ""
	if base != "." {
		prefix = strings.TrimSuffix(base, "/") + "/"
	}

	keys, err := s.listObjects(ctx, s.root.ObjectKey(prefix))
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, objectKey := range keys {
		rel := s.root.Relative(objectKey)
		if matchKey(pattern, rel) {
			matched = append(matched, rel)
		}
	}
	sort.Strings(matched)

	s.log.Debug("listed objects",
		zap.String("bucket", s.root.Bucket),
		zap.String("pattern", pattern),
		zap.Int("scanned", len(keys)),
		zap.Int("matched", len(matched)))
	return matched, nil
}

func (s *S3Store) listObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(s.root.Bucket),
			Prefix: aws.String(prefix),
		},
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, aws.StringValue(obj.Key))
			}
			return !lastPage
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.root.Bucket, prefix, err)
	}
	return keys, nil
}

func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.root.Bucket),
		Key:    aws.String(s.root.ObjectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start download stream for %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, meta map[string]string) error {
	objectKey := s.root.ObjectKey(key)

	input := &s3manager.UploadInput{
		Bucket: aws.String(s.root.Bucket),
		Key:    aws.String(objectKey),
		Body:   body,
	}
	if len(meta) > 0 {
		input.Metadata = aws.StringMap(meta)
	}

	result, err := s.uploader.UploadWithContext(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectKey, err)
	}

	// Verify upload
	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.root.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("upload verification failed for %s: %w", objectKey, err)
	}

	s.log.Debug("uploaded object", zap.String("key", objectKey), zap.String("location", result.Location))
	return nil
}

func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	keys, err := s.listObjects(ctx, s.root.ObjectKey(prefix))
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))

		objects := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(key)})
		}

		out, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.root.Bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete objects under %s: %w", prefix, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted, fmt.Errorf("failed to delete %s: %s", aws.StringValue(first.Key), aws.StringValue(first.Message))
		}
		deleted += len(objects)
	}
	return deleted, nil
}

// Probe uploads and removes a marker object.
func (s *S3Store) Probe(ctx context.Context) error {
	s.log.Info("testing s3 access", zap.String("bucket", s.root.Bucket))

	key := s.root.ObjectKey(probeKey)
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.root.Bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader("S3 connection test successful"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload test failed: %w", err)
	}

	// Clean up test file
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.root.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Warn("failed to clean up probe object", zap.String("key", key), zap.Error(err))
	}
	return nil
}
