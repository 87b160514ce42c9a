package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3DeleteBatch is the DeleteObjects per-request limit.
const s3DeleteBatch = 1000

// S3Config configures an S3-compatible bucket disk.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Disk stores files as objects in a bucket. Directories are key prefixes;
// MakeDirectory writes an empty "<dir>/" marker so empty directories show up.
type S3Disk struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Disk(ctx context.Context, cfg S3Config) (*S3Disk, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Disk{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (d *S3Disk) Put(ctx context.Context, p string, r io.Reader, mimeType string) error {
	key, err := d.objectKey(p)
	if err != nil {
		return err
	}
	// PutObject needs a seekable body to sign the payload.
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read upload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	input := &s3.PutObjectInput{
		Bucket: &d.bucket,
		Key:    &key,
		Body:   body,
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := d.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func (d *S3Disk) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := d.objectKey(p)
	if err != nil {
		return nil, err
	}
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &d.bucket,
		Key:    &key,
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	return out.Body, nil
}

func (d *S3Disk) Exists(ctx context.Context, p string) (bool, error) {
	key, err := d.objectKey(p)
	if err != nil {
		return false, err
	}
	_, err = d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &d.bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return d.DirectoryExists(ctx, p)
	}
	return false, fmt.Errorf("s3 head object: %w", err)
}

func (d *S3Disk) Delete(ctx context.Context, p string) error {
	key, err := d.objectKey(p)
	if err != nil {
		return err
	}
	if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &d.bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("s3 delete object: %w", err)
	}
	return nil
}

func (d *S3Disk) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix, err := d.dirPrefix(dir)
	if err != nil {
		return nil, err
	}
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    &d.bucket,
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var files, dirs []Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			files = append(files, Entry{
				Name: d.diskPath(key),
				Size: aws.ToInt64(obj.Size),
				Type: EntryFile,
			})
		}
		for _, cp := range page.CommonPrefixes {
			dirs = append(dirs, Entry{
				Name: strings.TrimSuffix(d.diskPath(aws.ToString(cp.Prefix)), "/"),
				Type: EntryDirectory,
			})
		}
	}
	return append(files, dirs...), nil
}

func (d *S3Disk) MakeDirectory(ctx context.Context, dir string) error {
	prefix, err := d.dirPrefix(dir)
	if err != nil {
		return err
	}
	if _, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &d.bucket,
		Key:    aws.String(prefix),
		Body:   bytes.NewReader(nil),
	}); err != nil {
		return fmt.Errorf("s3 put directory marker: %w", err)
	}
	return nil
}

func (d *S3Disk) DirectoryExists(ctx context.Context, dir string) (bool, error) {
	prefix, err := d.dirPrefix(dir)
	if err != nil {
		return false, err
	}
	out, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &d.bucket,
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("s3 list objects: %w", err)
	}
	return len(out.Contents) > 0, nil
}

// DeleteDirectory removes every object under dir in batches.
func (d *S3Disk) DeleteDirectory(ctx context.Context, dir string) error {
	if strings.Trim(path.Clean("/"+dir), "/") == "" {
		return fmt.Errorf("refusing to delete disk root")
	}
	prefix, err := d.dirPrefix(dir)
	if err != nil {
		return err
	}
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: &d.bucket,
		Prefix: aws.String(prefix),
	})

	batch := make([]types.ObjectIdentifier, 0, s3DeleteBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &d.bucket,
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		if err != nil {
			return fmt.Errorf("s3 delete objects: %w", err)
		}
		return nil
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == s3DeleteBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

func (d *S3Disk) objectKey(p string) (string, error) {
	if err := CheckPath(p); err != nil {
		return "", err
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if d.prefix == "" {
		return clean, nil
	}
	return path.Join(d.prefix, clean), nil
}

func (d *S3Disk) dirPrefix(dir string) (string, error) {
	key, err := d.objectKey(dir)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", nil
	}
	return key + "/", nil
}

func (d *S3Disk) diskPath(key string) string {
	if d.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, d.prefix+"/")
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "NotFound")
}
