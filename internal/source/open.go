package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 defaults.
const (
	DefaultS3Endpoint    = "s3.amazonaws.com"
	DefaultS3Region      = "us-east-1"
	DefaultAccessKeyEnv  = "AWS_ACCESS_KEY_ID"
	DefaultSecretKeyEnv  = "AWS_SECRET_ACCESS_KEY"
	DefaultSessionKeyEnv = "AWS_SESSION_TOKEN"
	s3Scheme             = "s3"
)

// S3Config configures access to s3:// sources. Credentials are read from the
// named environment variables, never from the project file.
type S3Config struct {
	Endpoint     string `koanf:"endpoint"`
	Region       string `koanf:"region"`
	UseSSL       bool   `koanf:"use_ssl"`
	AccessKeyEnv string `koanf:"access_key_env"`
	SecretKeyEnv string `koanf:"secret_key_env"`
}

// Location is a parsed source path.
type Location struct {
	// Path is the local file path when Bucket is empty.
	Path   string
	Bucket string
	Key    string
}

// IsRemote reports whether the location is an object in a bucket.
func (l Location) IsRemote() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.IsRemote() {
		return s3Scheme + "://" + l.Bucket + "/" + l.Key
	}
	return l.Path
}

// ParseLocation accepts a local path or an s3://bucket/key URL.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, core.NewConfigurationError("source.path", "source path is required")
	}
	if !strings.HasPrefix(raw, s3Scheme+"://") {
		return Location{Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, &core.ConfigurationError{Field: "source.path", Reason: "invalid object URL", Err: err}
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return Location{}, core.NewConfigurationError("source.path",
			"object URL %q must have the form s3://bucket/key", raw)
	}
	return Location{Bucket: u.Host, Key: key}, nil
}

// Opener opens a source location for streaming.
type Opener interface {
	Open(ctx context.Context, loc Location) (io.ReadCloser, error)
}

// FileOpener opens local files.
type FileOpener struct{}

// Open implements Opener.
func (FileOpener) Open(_ context.Context, loc Location) (io.ReadCloser, error) {
	f, err := os.Open(loc.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &core.ConfigurationError{Field: "source.path", Reason: fmt.Sprintf("file %q does not exist", loc.Path), Err: err}
		}
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	return f, nil
}

// S3Opener streams objects from S3-compatible storage.
type S3Opener struct {
	client *minio.Client
}

// NewS3Opener builds a minio client from cfg.
func NewS3Opener(cfg S3Config) (*S3Opener, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultS3Endpoint
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, core.NewConfigurationError("source.s3.endpoint",
			"endpoint must not include a scheme: %q", cfg.Endpoint)
	}
	if cfg.Region == "" {
		cfg.Region = DefaultS3Region
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  s3Credentials(cfg),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, &core.ConfigurationError{Field: "source.s3", Reason: "failed to create object store client", Err: err}
	}
	return &S3Opener{client: client}, nil
}

func s3Credentials(cfg S3Config) *credentials.Credentials {
	accessEnv, secretEnv := cfg.AccessKeyEnv, cfg.SecretKeyEnv
	if accessEnv == "" {
		accessEnv = DefaultAccessKeyEnv
	}
	if secretEnv == "" {
		secretEnv = DefaultSecretKeyEnv
	}
	access, secret := os.Getenv(accessEnv), os.Getenv(secretEnv)
	if access == "" && secret == "" {
		return credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
		})
	}
	return credentials.NewStaticV4(access, secret, os.Getenv(DefaultSessionKeyEnv))
}

// Open implements Opener. The object is stat'ed first so a missing key
// surfaces here rather than on the first read.
func (o *S3Opener) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	if _, err := o.client.StatObject(ctx, loc.Bucket, loc.Key, minio.StatObjectOptions{}); err != nil {
		return nil, classifyS3Error(loc, err)
	}
	obj, err := o.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error(loc, err)
	}
	return obj, nil
}

func classifyS3Error(loc Location, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return &core.ConfigurationError{Field: "source.path", Reason: fmt.Sprintf("cannot read %s: %s", loc, resp.Code), Err: err}
	case "SlowDown", "InternalError", "ServiceUnavailable", "RequestTimeout":
		return &core.TransientError{Op: "open " + loc.String(), Err: err}
	}
	return fmt.Errorf("failed to open %s: %w", loc, err)
}

// Router dispatches to the local or object-store opener by location.
type Router struct {
	Local  Opener
	Remote Opener
}

// Open implements Opener.
func (r Router) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	if loc.IsRemote() {
		if r.Remote == nil {
			return nil, core.NewConfigurationError("source.s3", "object store source configured without s3 settings")
		}
		return r.Remote.Open(ctx, loc)
	}
	local := r.Local
	if local == nil {
		local = FileOpener{}
	}
	return local.Open(ctx, loc)
}
