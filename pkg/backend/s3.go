package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"kmesh/pkg/models"
)

const (
	documentContentType = "application/json"
	// Upper bound of objects read by one search.
	maxSearchScan = 1000
)

// objectAPI is the part of the S3 client the adapter uses.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options locates the bucket of an S3Adapter.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// ParseS3DSN reads s3://bucket/prefix?region=..&endpoint=..&access_key=..&secret_key=..
func ParseS3DSN(dsn string) (S3Options, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return S3Options{}, fmt.Errorf("invalid s3 connection string: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return S3Options{}, fmt.Errorf("invalid s3 connection string %q: want s3://bucket/prefix", dsn)
	}

	query := u.Query()
	return S3Options{
		Bucket:    u.Host,
		Prefix:    strings.Trim(u.Path, "/"),
		Region:    query.Get("region"),
		Endpoint:  query.Get("endpoint"),
		AccessKey: query.Get("access_key"),
		SecretKey: query.Get("secret_key"),
	}, nil
}

// S3Adapter stores each record as a JSON object at prefix/collection/id.json.
type S3Adapter struct {
	kind   models.BackendKind
	client objectAPI
	bucket string
	prefix string
}

// NewS3Adapter builds an S3 client from the default AWS configuration chain,
// overridden by opts.
func NewS3Adapter(ctx context.Context, kind models.BackendKind, opts S3Options) (*S3Adapter, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Adapter(kind, client, opts.Bucket, opts.Prefix), nil
}

func newS3Adapter(kind models.BackendKind, client objectAPI, bucket, prefix string) *S3Adapter {
	return &S3Adapter{kind: kind, client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Kind implements Adapter.
func (a *S3Adapter) Kind() models.BackendKind {
	return a.kind
}

// Execute implements Adapter.
func (a *S3Adapter) Execute(ctx context.Context, op Op, payload models.Payload) (any, error) {
	switch op {
	case OpGet:
		var req keyRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.get(ctx, req.Collection, req.ID)

	case OpPut:
		var req putRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.put(ctx, req)

	case OpDelete:
		var req keyRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.delete(ctx, req)

	case OpSearch:
		var req searchRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.search(ctx, req)

	default:
		return nil, unsupported(a.kind, op)
	}
}

func (a *S3Adapter) collectionPrefix(collection string) string {
	return path.Join(a.prefix, url.PathEscape(collection)) + "/"
}

func (a *S3Adapter) objectKey(collection, id string) string {
	return a.collectionPrefix(collection) + url.PathEscape(id) + ".json"
}

func (a *S3Adapter) get(ctx context.Context, collection, id string) (Record, error) {
	return a.read(ctx, a.objectKey(collection, id), collection, id)
}

func (a *S3Adapter) read(ctx context.Context, key, collection, id string) (Record, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return Record{}, notFound(collection, id)
		}
		return Record{}, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, fmt.Errorf("s3 read %s: %w", key, err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("corrupt object %s: %w", key, err)
	}
	return record, nil
}

func (a *S3Adapter) put(ctx context.Context, req putRequest) (Record, error) {
	record := Record{
		Collection: req.Collection,
		ID:         req.ID,
		Document:   req.Document,
		UpdatedAt:  time.Now().UTC(),
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return Record{}, fmt.Errorf("%w: put: %w", ErrInvalidPayload, err)
	}

	key := a.objectKey(req.Collection, req.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String(documentContentType),
	})
	if err != nil {
		return Record{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	return record, nil
}

func (a *S3Adapter) delete(ctx context.Context, req keyRequest) (Deleted, error) {
	key := a.objectKey(req.Collection, req.ID)

	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NotFound
		if errors.As(err, &missing) {
			return Deleted{Collection: req.Collection, ID: req.ID}, nil
		}
		return Deleted{}, fmt.Errorf("s3 head %s: %w", key, err)
	}

	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return Deleted{}, fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return Deleted{Collection: req.Collection, ID: req.ID, Deleted: true}, nil
}

func (a *S3Adapter) search(ctx context.Context, req searchRequest) ([]Record, error) {
	limit := req.limit()
	records := make([]Record, 0)
	scanned := 0

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.collectionPrefix(req.Collection)),
	}
	for {
		page, err := a.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", aws.ToString(input.Prefix), err)
		}

		for _, object := range page.Contents {
			if len(records) == limit || scanned == maxSearchScan {
				return records, nil
			}
			scanned++

			record, err := a.read(ctx, aws.ToString(object.Key), req.Collection, "")
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if matchesText(record.Document, req.Text) {
				records = append(records, record)
			}
		}

		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return records, nil
		}
		input.ContinuationToken = page.NextContinuationToken
	}
}

// Close implements Adapter.
func (a *S3Adapter) Close() error {
	return nil
}
