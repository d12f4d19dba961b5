package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"microdata/internal/domain"
	"microdata/internal/etl"
)

// ObjectConfig configures an S3-compatible object store.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func (c ObjectConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// NewMinIOClient builds a client for cfg.
func NewMinIOClient(cfg ObjectConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// ObjectTableStore keeps tables as CSV objects under
// <prefix>/<source>/<kind>.csv in one bucket.
type ObjectTableStore struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

// NewObjectTableStore connects to the object store described by cfg.
func NewObjectTableStore(cfg ObjectConfig) (*ObjectTableStore, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	return &ObjectTableStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: cfg.Region,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *ObjectTableStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ObjectKey returns the object name for key.
func (s *ObjectTableStore) ObjectKey(key domain.TableKey) string {
	return path.Join(s.prefix, key.Source, string(key.Kind)+".csv")
}

// Location implements domain.TableStore.
func (s *ObjectTableStore) Location(key domain.TableKey) string {
	return "s3://" + s.bucket + "/" + s.ObjectKey(key)
}

// Load implements domain.TableStore.
func (s *ObjectTableStore) Load(ctx context.Context, key domain.TableKey) (*etl.Table, error) {
	name := s.ObjectKey(key)
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	defer obj.Close()

	t, err := ReadCSV(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return t, nil
}

// Save implements domain.TableStore. A single PUT replaces the object, so
// readers never observe a partial table.
func (s *ObjectTableStore) Save(ctx context.Context, key domain.TableKey, t *etl.Table) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	name := s.ObjectKey(key)
	opts := minio.PutObjectOptions{ContentType: "text/csv"}
	if _, err := s.client.PutObject(ctx, s.bucket, name, &buf, int64(buf.Len()), opts); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
