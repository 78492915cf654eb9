package s3fs

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin"
	"github.com/huanghantao/agfs/pkg/plugin/config"
)

const PluginName = "s3fs"

// S3FSPlugin exposes an S3 bucket as a mountable filesystem.
type S3FSPlugin struct {
	fs *S3FS
}

// NewS3FSPlugin creates a new S3FS plugin
func NewS3FSPlugin() *S3FSPlugin {
	return &S3FSPlugin{}
}

func (p *S3FSPlugin) Name() string {
	return PluginName
}

func (p *S3FSPlugin) Validate(cfg *config.Config) error {
	allowedKeys := []string{"bucket", "region", "endpoint", "access_key_id", "secret_access_key",
		"disable_ssl", "prefix", "mount_path"}
	if err := config.ValidateOnlyKnownKeys(cfg, allowedKeys); err != nil {
		return err
	}
	if cfg.GetString("bucket", "") == "" {
		return fmt.Errorf("s3fs requires a 'bucket' configuration key")
	}
	return nil
}

func (p *S3FSPlugin) Initialize(cfg *config.Config) error {
	if cfg.GetString("bucket", "") == "" {
		return fmt.Errorf("s3fs requires a 'bucket' configuration key")
	}

	fs, err := NewS3FS(S3Config{
		Bucket:          cfg.GetString("bucket", ""),
		Region:          cfg.GetString("region", "us-east-1"),
		Endpoint:        cfg.GetString("endpoint", ""),
		AccessKeyID:     cfg.GetString("access_key_id", ""),
		SecretAccessKey: cfg.GetString("secret_access_key", ""),
		DisableSSL:      cfg.GetBool("disable_ssl", false),
		Prefix:          cfg.GetString("prefix", ""),
	})
	if err != nil {
		return err
	}

	p.fs = fs
	log.Infof("[s3fs] Initialized: bucket=%s prefix=%q", fs.bucket, fs.prefix)
	return nil
}

func (p *S3FSPlugin) GetFileSystem() filesystem.FileSystem {
	return p.fs
}

func (p *S3FSPlugin) GetReadme() string {
	return `S3FS Plugin - S3-Backed File System

This plugin maps a filesystem tree onto an S3 bucket, or onto any
S3-compatible store such as MinIO, LocalStack or Cloudflare R2. Each file
is one object; the optional "prefix" confines a mount to a key prefix so
several mounts can share a bucket without seeing each other.

CONFIGURATION:
  bucket = "my-bucket"              (required)
  region = "us-east-1"              (default us-east-1)
  endpoint = "http://minio:9000"    (for S3-compatible stores)
  access_key_id = "..."             (omit to use the default AWS chain)
  secret_access_key = "..."
  disable_ssl = false               (plain http for bare endpoints)
  prefix = "team1/workspace"        (key prefix for this mount)

DIRECTORY MODEL:
  Directories follow the usual object-store convention. Writing
  /a/b/file.txt works without creating /a or /a/b first; the directories
  exist implicitly because a key lives below them. Mkdir additionally
  stores a zero-byte "path/" marker so an empty directory survives until
  something is put into it.

WRITE FLAG SEMANTICS:
  APPEND     - Write at the current end of file (offset -1 does the same)
  CREATE     - Create the file if it does not exist
  EXCLUSIVE  - With CREATE, fail if the file already exists
  TRUNCATE   - Discard existing content first; combined with APPEND the
               write lands at the start of the emptied file
  SYNC       - PutObject is durable on return; no extra flush happens

CHARACTERISTICS:
  - Writes are read-modify-write over the whole object; suited to small
    and medium files, not multi-gigabyte objects
  - Rename copies the object (or subtree) and deletes the old keys, so it
    is not atomic
  - Chmod succeeds without effect; object storage has no permission bits
  - Reading at or past the end of a file returns empty data, not an error

VERSION: 1.0.0
`
}

func (p *S3FSPlugin) GetConfigParams() []plugin.ConfigParameter {
	return []plugin.ConfigParameter{
		{
			Name:        "bucket",
			Type:        "string",
			Required:    true,
			Default:     "",
			Description: "S3 bucket name",
		},
		{
			Name:        "region",
			Type:        "string",
			Required:    false,
			Default:     "us-east-1",
			Description: "AWS region",
		},
		{
			Name:        "endpoint",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "Custom endpoint for S3-compatible stores (MinIO, LocalStack)",
		},
		{
			Name:        "access_key_id",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "Static access key; omit to use the default AWS credential chain",
		},
		{
			Name:        "secret_access_key",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "Static secret key",
		},
		{
			Name:        "disable_ssl",
			Type:        "bool",
			Required:    false,
			Default:     "false",
			Description: "Use plain http when the endpoint has no scheme",
		},
		{
			Name:        "prefix",
			Type:        "string",
			Required:    false,
			Default:     "",
			Description: "Key prefix confining this mount inside the bucket",
		},
	}
}

func (p *S3FSPlugin) Shutdown() error {
	p.fs = nil
	return nil
}

// Ensure S3FSPlugin implements ServicePlugin
var _ plugin.ServicePlugin = (*S3FSPlugin)(nil)
