// Package s3 implements docstore.Store on S3 or an S3-compatible service,
// one JSON object per document.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/uuid"
)

const objectSuffix = ".json"

// Config configures the S3 document store.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // For S3-compatible services (MinIO, etc.)
	// Static credentials; empty values fall back to the default AWS chain.
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // Key prefix for all objects
	UsePathStyle    bool
}

// API is the subset of *s3.Client the store uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store keeps documents under <prefix><collection>/<id>.json. Updates are
// read-modify-write, so concurrent writers resolve last-writer-wins.
type Store struct {
	client API
	bucket string
	prefix string
}

// Open builds an S3 client from cfg and returns a store on it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

// New creates a store on an existing client.
func New(client API, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// ObjectKey returns the object key of a document.
func (s *Store) ObjectKey(collection, id string) string {
	return s.collectionPrefix(collection) + id + objectSuffix
}

func (s *Store) collectionPrefix(collection string) string {
	return s.prefix + collection + "/"
}

// CreateDoc stores data under a new UUID.
func (s *Store) CreateDoc(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	id := uuid.New()
	if err := s.put(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// UpsertDoc replaces or creates the document stored under id.
func (s *Store) UpsertDoc(ctx context.Context, collection, id string, data map[string]interface{}) error {
	return s.put(ctx, collection, id, data)
}

// UpdateDoc merges fields into an existing document.
func (s *Store) UpdateDoc(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	current, err := s.get(ctx, s.ObjectKey(collection, id))
	if err != nil {
		return err
	}
	return s.put(ctx, collection, id, docstore.Merge(current, fields))
}

// DeleteDoc removes a document. S3 deletes are idempotent.
func (s *Store) DeleteDoc(ctx context.Context, collection, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.ObjectKey(collection, id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// ListDocs returns matching documents in key order.
func (s *Store) ListDocs(ctx context.Context, collection string, filter *docstore.Filter) ([]docstore.Document, error) {
	prefix := s.collectionPrefix(collection)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	docs := []docstore.Document{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", collection, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			id := strings.TrimSuffix(strings.TrimPrefix(key, prefix), objectSuffix)
			if id == "" || strings.Contains(id, "/") || !strings.HasSuffix(key, objectSuffix) {
				continue
			}
			data, err := s.get(ctx, key)
			if errors.Is(err, docstore.ErrNotFound) {
				// deleted between list and read
				continue
			}
			if err != nil {
				return nil, err
			}
			if filter.Match(data) {
				docs = append(docs, docstore.Document{ID: id, Data: data})
			}
		}
	}
	return docs, nil
}

func (s *Store) put(ctx context.Context, collection, id string, data map[string]interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.ObjectKey(collection, id)),
		Body:        bytes.NewReader(encoded),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (map[string]interface{}, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, docstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s body: %w", key, err)
	}
	data, err := docstore.DecodeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return data, nil
}
