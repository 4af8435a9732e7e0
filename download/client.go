// download/client.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package download

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/mmp/enroute/log"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// RemoteInfo is the metadata of a remote file. Size is -1 and
// LastModified is zero when the server does not report them.
type RemoteInfo struct {
	Size         int64
	LastModified time.Time
}

// ObjectInfo describes one object of a bucket listing; Name is relative
// to the listed prefix.
type ObjectInfo struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Client fetches remote files. Besides http and https URLs it handles
// gs://bucket/object (Google Cloud Storage) and s3://bucket/key (Amazon
// S3); the cloud clients are created on first use.
type Client struct {
	HTTP              *http.Client
	IgnoreSSLProblems bool

	lg *log.Logger

	mu  sync.Mutex
	gcs *storage.Client
	s3  *s3.Client
}

func NewClient(ignoreSSLProblems bool, lg *log.Logger) *Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if ignoreSSLProblems {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		HTTP:              &http.Client{Transport: tr, CheckRedirect: checkRedirect},
		IgnoreSSLProblems: ignoreSSLProblems,
		lg:                lg,
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gcs != nil {
		c.gcs.Close()
		c.gcs = nil
	}
	c.s3 = nil
}

// splitBucketURL splits gs:// and s3:// URLs into bucket and object name.
func splitBucketURL(u *url.URL) (bucket, object string) {
	return u.Host, strings.TrimPrefix(u.Path, "/")
}

// Stat returns the remote file's size and modification time.
func (c *Client) Stat(ctx context.Context, rawURL string) (RemoteInfo, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RemoteInfo{}, &Error{Kind: ProtocolUnknown, URL: rawURL, Err: err}
	}

	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return RemoteInfo{}, newError(rawURL, err)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return RemoteInfo{}, newError(rawURL, err)
		}
		resp.Body.Close()
		if kind, ok := StatusKind(resp.StatusCode); ok {
			return RemoteInfo{}, &Error{Kind: kind, URL: rawURL, Err: fmt.Errorf("HTTP status %s", resp.Status)}
		}

		info := RemoteInfo{Size: resp.ContentLength}
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				info.LastModified = t
			}
		}
		return info, nil

	case "gs":
		client, err := c.gcsClient(ctx)
		if err != nil {
			return RemoteInfo{}, newError(rawURL, err)
		}
		bucket, object := splitBucketURL(u)
		attrs, err := client.Bucket(bucket).Object(object).Attrs(ctx)
		if err != nil {
			return RemoteInfo{}, newError(rawURL, err)
		}
		return RemoteInfo{Size: attrs.Size, LastModified: attrs.Updated}, nil

	case "s3":
		client, err := c.s3Client(ctx)
		if err != nil {
			return RemoteInfo{}, newError(rawURL, err)
		}
		bucket, key := splitBucketURL(u)
		out, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return RemoteInfo{}, newError(rawURL, err)
		}
		info := RemoteInfo{Size: aws.ToInt64(out.ContentLength), LastModified: aws.ToTime(out.LastModified)}
		if out.ContentLength == nil {
			info.Size = -1
		}
		return info, nil

	default:
		return RemoteInfo{}, &Error{Kind: ProtocolUnknown, URL: rawURL,
			Err: fmt.Errorf("unsupported URL scheme %q", u.Scheme)}
	}
}

// Open starts reading the remote file. The returned size is -1 if
// unknown.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, &Error{Kind: ProtocolUnknown, URL: rawURL, Err: err}
	}

	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, 0, newError(rawURL, err)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, 0, newError(rawURL, err)
		}
		if kind, ok := StatusKind(resp.StatusCode); ok {
			resp.Body.Close()
			return nil, 0, &Error{Kind: kind, URL: rawURL, Err: fmt.Errorf("HTTP status %s", resp.Status)}
		}
		return resp.Body, resp.ContentLength, nil

	case "gs":
		client, err := c.gcsClient(ctx)
		if err != nil {
			return nil, 0, newError(rawURL, err)
		}
		bucket, object := splitBucketURL(u)
		r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			return nil, 0, newError(rawURL, err)
		}
		return r, r.Attrs.Size, nil

	case "s3":
		client, err := c.s3Client(ctx)
		if err != nil {
			return nil, 0, newError(rawURL, err)
		}
		bucket, key := splitBucketURL(u)
		out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return nil, 0, newError(rawURL, err)
		}
		size := int64(-1)
		if out.ContentLength != nil {
			size = *out.ContentLength
		}
		return out.Body, size, nil

	default:
		return nil, 0, &Error{Kind: ProtocolUnknown, URL: rawURL,
			Err: fmt.Errorf("unsupported URL scheme %q", u.Scheme)}
	}
}

// List returns the objects below a gs:// or s3:// prefix, with names
// relative to the prefix.
func (c *Client) List(ctx context.Context, rawURL string) ([]ObjectInfo, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: ProtocolUnknown, URL: rawURL, Err: err}
	}
	bucket, prefix := splitBucketURL(u)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var objs []ObjectInfo
	add := func(name string, size int64, mod time.Time) {
		rel := strings.TrimPrefix(name, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") { // skip folder placeholders
			return
		}
		objs = append(objs, ObjectInfo{Name: rel, Size: size, LastModified: mod})
	}

	switch u.Scheme {
	case "gs":
		client, err := c.gcsClient(ctx)
		if err != nil {
			return nil, newError(rawURL, err)
		}
		query := storage.Query{Projection: storage.ProjectionNoACL, Prefix: prefix}
		it := client.Bucket(bucket).Objects(ctx, &query)
		for {
			if obj, err := it.Next(); err == iterator.Done {
				break
			} else if err != nil {
				return nil, newError(rawURL, err)
			} else {
				add(obj.Name, obj.Size, obj.Updated)
			}
		}

	case "s3":
		client, err := c.s3Client(ctx)
		if err != nil {
			return nil, newError(rawURL, err)
		}
		p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, newError(rawURL, err)
			}
			for _, obj := range page.Contents {
				add(aws.ToString(obj.Key), aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified))
			}
		}

	default:
		return nil, &Error{Kind: ProtocolInvalidOperation, URL: rawURL,
			Err: fmt.Errorf("cannot list %q URLs", u.Scheme)}
	}

	return objs, nil
}

// JoinURL appends a slash-separated relative path to base.
func JoinURL(base, rel string) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + rel
	}
	u.Path = path.Join(u.Path, rel)
	return u.String()
}

// gcsClient returns the Cloud Storage client, using the default
// credentials if there are any and anonymous access to public buckets
// otherwise.
func (c *Client) gcsClient(ctx context.Context) (*storage.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gcs != nil {
		return c.gcs, nil
	}

	var opts []option.ClientOption
	if creds := os.Getenv("ENROUTE_GCS_CREDENTIALS"); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else if _, err := google.FindDefaultCredentials(ctx, storage.ScopeReadOnly); err != nil {
		c.lg.Info("no Google Cloud credentials; using anonymous access", slog.Any("error", err))
		opts = append(opts, option.WithoutAuthentication())
	}
	if c.IgnoreSSLProblems {
		opts = append(opts, option.WithHTTPClient(c.HTTP))
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	c.gcs = client
	return client, nil
}

// s3Client returns the S3 client. Static credentials may be given in
// ENROUTE_S3_ACCESS_KEY_ID and ENROUTE_S3_SECRET_ACCESS_KEY; otherwise the
// default AWS configuration is used, falling back to anonymous access.
// ENROUTE_S3_ENDPOINT selects an S3-compatible service.
func (c *Client) s3Client(ctx context.Context) (*s3.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.s3 != nil {
		return c.s3, nil
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithHTTPClient(c.HTTP)}
	if id, secret := os.Getenv("ENROUTE_S3_ACCESS_KEY_ID"), os.Getenv("ENROUTE_S3_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(id, secret, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Credentials == nil {
		cfg.Credentials = aws.AnonymousCredentials{}
	} else if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		c.lg.Info("no AWS credentials; using anonymous access", slog.Any("error", err))
		cfg.Credentials = aws.AnonymousCredentials{}
	}

	endpoint := os.Getenv("ENROUTE_S3_ENDPOINT")
	c.s3 = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return c.s3, nil
}
