package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"nmfstore/internal/secret"
)

// Keys per DeleteObjects request.
const s3DeleteBatch = 1000

// s3API is the part of *s3.Client the adapter uses.
type s3API interface {
	manager.UploadAPIClient
	HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(context.Context, *s3.CopyObjectInput, ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(context.Context, *s3.DeleteObjectsInput, ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Dialer connects to the bucket named by the endpoint host. Credentials
// are an access key id and secret; without them the default AWS chain applies.
type S3Dialer struct {
	Region   string
	Endpoint string // custom endpoint (MinIO etc.), forces path-style addressing
}

func (d S3Dialer) Dial(ctx context.Context, ep Endpoint, cred secret.Credential) (Client, error) {
	cfg, err := d.loadConfig(ctx, cred)
	if err != nil {
		return nil, err
	}
	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if d.Endpoint != "" {
			o.BaseEndpoint = aws.String(d.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Client(ctx, api, ep.Host)
}

func (d S3Dialer) loadConfig(ctx context.Context, cred secret.Credential) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if d.Region != "" {
		opts = append(opts, config.WithRegion(d.Region))
	}
	if cred.User != "" {
		opts = append(opts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cred.User, cred.Password, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return cfg, nil
}

func newS3Client(ctx context.Context, api s3API, bucket string) (*s3Client, error) {
	if _, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, s3Error(err)
	}
	return &s3Client{api: api, bucket: bucket, uploader: manager.NewUploader(api)}, nil
}

type s3Client struct {
	api      s3API
	bucket   string
	uploader *manager.Uploader
}

// s3Error maps API error codes to the errors the adapter understands.
func s3Error(err error) error {
	if err == nil {
		return nil
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %w", fs.ErrNotExist, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"ExpiredToken", "InvalidToken", "AuthorizationHeaderMalformed":
			return wrapAuth(err)
		}
		return err
	}
	if strings.Contains(err.Error(), "failed to retrieve credentials") {
		return wrapAuth(err)
	}
	return err
}

func s3Key(remote string) string { return strings.TrimPrefix(remote, "/") }

func s3Prefix(remote string) string {
	k := s3Key(remote)
	if k == "" {
		return ""
	}
	return strings.TrimSuffix(k, "/") + "/"
}

func (c *s3Client) Stat(ctx context.Context, remote string) (Entry, error) {
	key := s3Key(remote)
	if key == "" {
		return Entry{Name: "/", Dir: true}, nil
	}
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		e := Entry{Name: path.Base(key), Size: aws.ToInt64(out.ContentLength)}
		if out.LastModified != nil {
			e.ModTime = *out.LastModified
		}
		return e, nil
	}
	if mapped := s3Error(err); !errors.Is(mapped, fs.ErrNotExist) {
		return Entry{}, mapped
	}

	// maybe a directory? Check the prefix.
	list, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(s3Prefix(remote)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return Entry{}, s3Error(err)
	}
	if len(list.Contents) > 0 || len(list.CommonPrefixes) > 0 {
		return Entry{Name: path.Base(key), Dir: true}, nil
	}
	return Entry{}, fmt.Errorf("%w: %s", fs.ErrNotExist, remote)
}

func (c *s3Client) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := s3Prefix(dir)
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	var out []Entry
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s3Error(err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				out = append(out, Entry{Name: name, Dir: true})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			// The directory marker itself.
			if name == "" {
				continue
			}
			e := Entry{Name: strings.TrimSuffix(name, "/"), Dir: strings.HasSuffix(name, "/"), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				e.ModTime = *obj.LastModified
			}
			out = append(out, e)
		}
	}
	if len(out) == 0 && prefix != "" {
		// An empty listing is only valid for a directory that exists.
		if _, err := c.Stat(ctx, dir); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *s3Client) Open(ctx context.Context, remote string) (io.ReadCloser, int64, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key(remote)),
	})
	if err != nil {
		return nil, -1, s3Error(err)
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// Store uploads r. Objects cannot be appended to, so appendTo streams the
// existing content in front of r into a new upload.
func (c *s3Client) Store(ctx context.Context, remote string, r io.Reader, appendTo bool) error {
	body := r
	if appendTo {
		old, _, err := c.Open(ctx, remote)
		switch {
		case err == nil:
			defer old.Close()
			body = io.MultiReader(old, r)
		case !errors.Is(err, fs.ErrNotExist):
			return err
		}
	}
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key(remote)),
		Body:   body,
	})
	return s3Error(err)
}

// Rename copies then deletes; a directory moves every key below it.
func (c *s3Client) Rename(ctx context.Context, from, to string) error {
	e, err := c.Stat(ctx, from)
	if err != nil {
		return err
	}
	if !e.Dir {
		if err := c.copyKey(ctx, s3Key(from), s3Key(to)); err != nil {
			return err
		}
		return c.deleteKeys(ctx, []string{s3Key(from)})
	}
	src, dst := s3Prefix(from), s3Prefix(to)
	keys, err := c.keysUnder(ctx, src)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.copyKey(ctx, k, dst+strings.TrimPrefix(k, src)); err != nil {
			return err
		}
	}
	return c.deleteKeys(ctx, keys)
}

func (c *s3Client) copyKey(ctx context.Context, from, to string) error {
	source := (&url.URL{Path: c.bucket + "/" + from}).EscapedPath()
	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		CopySource: aws.String(source),
		Key:        aws.String(to),
	})
	return s3Error(err)
}

func (c *s3Client) keysUnder(ctx context.Context, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s3Error(err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (c *s3Client) deleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 1 {
		_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(keys[0]),
		})
		return s3Error(err)
	}
	for start := 0; start < len(keys); start += s3DeleteBatch {
		end := min(start+s3DeleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return s3Error(err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete %s: %s: %s", aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}
	return nil
}

func (c *s3Client) Remove(ctx context.Context, remote string, dir bool) error {
	if !dir {
		return c.deleteKeys(ctx, []string{s3Key(remote)})
	}
	keys, err := c.keysUnder(ctx, s3Prefix(remote))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.deleteKeys(ctx, keys)
}

// Mkdir writes a zero-byte "key/" marker object.
func (c *s3Client) Mkdir(ctx context.Context, remote string) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Prefix(remote)),
		Body:   strings.NewReader(""),
	})
	return s3Error(err)
}

func (c *s3Client) Close() error { return nil }
