// Package s3fs exposes an S3 bucket (or any S3-compatible store) as a
// filesystem. Objects live under a configurable key prefix, so several
// mounts share one bucket without seeing each other. Directories follow
// the object-store convention: a path is a directory when a zero-byte
// marker object "path/" exists or when any key lives below it.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/huanghantao/agfs/pkg/filesystem"
)

// S3Config holds S3 connection settings.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	DisableSSL      bool
	Prefix          string
}

// S3FS implements the FileSystem interface over an S3 bucket.
type S3FS struct {
	client *s3.Client
	bucket string
	prefix string // cleaned key prefix, empty for the bucket root
}

// NewS3FS creates a new S3-backed filesystem. No network traffic happens
// here; credentials are resolved lazily on the first request.
func NewS3FS(cfg S3Config) (*S3FS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3fs: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	ctx := context.Background()

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM role, environment, shared config).
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		// Custom endpoint (MinIO, LocalStack, R2). Path-style addressing
		// keeps the bucket out of the hostname.
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			scheme := "https"
			if cfg.DisableSSL {
				scheme = "http"
			}
			endpoint = scheme + "://" + endpoint
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3FS{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// rel converts a filesystem path to its bucket-relative form without the
// leading slash. The root maps to "".
func (fs *S3FS) rel(p string) string {
	return strings.TrimPrefix(filesystem.NormalizePath(p), "/")
}

// fileKey is the object key storing the file content at p.
func (fs *S3FS) fileKey(p string) string {
	r := fs.rel(p)
	if fs.prefix == "" {
		return r
	}
	if r == "" {
		return fs.prefix
	}
	return fs.prefix + "/" + r
}

// dirKey is the key prefix holding everything below the directory at p and
// the key of its marker object. The mount root has no marker.
func (fs *S3FS) dirKey(p string) string {
	k := fs.fileKey(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (fs *S3FS) isRoot(p string) bool {
	return filesystem.NormalizePath(p) == "/"
}

// notFoundErr reports whether err is S3's missing-object answer. GetObject
// says NoSuchKey; HeadObject only reports a bare 404 NotFound.
func notFoundErr(err error) bool {
	var noKey *types.NoSuchKey
	var noObj *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noObj) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// invalidRangeErr matches the 416 a ranged GET past the end of the object
// produces.
func invalidRangeErr(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange"
}

// headObject returns size and mtime for an exact key, or found=false.
func (fs *S3FS) headObject(ctx context.Context, key string) (size int64, modTime time.Time, found bool, err error) {
	out, err := fs.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if notFoundErr(err) {
			return 0, time.Time{}, false, nil
		}
		return 0, time.Time{}, false, filesystem.NewIOError(err.Error())
	}
	return aws.ToInt64(out.ContentLength), aws.ToTime(out.LastModified), true, nil
}

// hasChildren reports whether any key lives under the directory prefix,
// the marker object included.
func (fs *S3FS) hasChildren(ctx context.Context, dirKey string) (bool, error) {
	out, err := fs.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(fs.bucket),
		Prefix:  aws.String(dirKey),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, filesystem.NewIOError(err.Error())
	}
	return aws.ToInt32(out.KeyCount) > 0, nil
}

// isDirectory reports whether p names a directory: the root always does,
// any other path through its marker object or at least one key beneath it.
func (fs *S3FS) isDirectory(ctx context.Context, p string) (bool, error) {
	if fs.isRoot(p) {
		return true, nil
	}
	_, _, found, err := fs.headObject(ctx, fs.dirKey(p))
	if err != nil {
		return false, err
	}
	if found {
		return true, nil
	}
	return fs.hasChildren(ctx, fs.dirKey(p))
}

// readFull fetches the whole object. found=false when the key is absent.
func (fs *S3FS) readFull(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := fs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if notFoundErr(err) {
			return nil, false, nil
		}
		return nil, false, filesystem.NewIOError(err.Error())
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, filesystem.NewIOError(err.Error())
	}
	return data, true, nil
}

func (fs *S3FS) putObject(ctx context.Context, key string, data []byte) error {
	_, err := fs.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

func (fs *S3FS) deleteObject(ctx context.Context, key string) error {
	_, err := fs.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

func (fs *S3FS) copyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := fs.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(fs.bucket),
		CopySource: aws.String(url.PathEscape(fs.bucket + "/" + srcKey)),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	return nil
}

// listAllKeys returns every key under prefix, across pages.
func (fs *S3FS) listAllKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(fs.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(fs.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, filesystem.NewIOError(err.Error())
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// deleteKeys removes keys in batches of 1000, the DeleteObjects limit.
func (fs *S3FS) deleteKeys(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := len(keys)
		if n > 1000 {
			n = 1000
		}
		batch := make([]types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			batch[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := fs.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(fs.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return filesystem.NewIOError(err.Error())
		}
		keys = keys[n:]
	}
	return nil
}

func (fs *S3FS) Read(p string, offset, size int64) ([]byte, error) {
	ctx := context.Background()
	if offset < 0 {
		return nil, filesystem.NewInvalidInputError("negative read offset")
	}
	if fs.isRoot(p) {
		return nil, filesystem.ErrIsDirectory
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.fileKey(p)),
	}
	// Push the range down to S3 instead of fetching the whole object.
	if offset > 0 || size > 0 {
		if size > 0 {
			in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
		} else {
			in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	out, err := fs.client.GetObject(ctx, in)
	if err != nil {
		// Reading at or past the end is an empty success.
		if invalidRangeErr(err) {
			return []byte{}, nil
		}
		if notFoundErr(err) {
			dir, derr := fs.isDirectory(ctx, p)
			if derr != nil {
				return nil, derr
			}
			if dir {
				return nil, filesystem.ErrIsDirectory
			}
			return nil, filesystem.NewNotFoundError("read", p)
		}
		return nil, filesystem.NewIOError(err.Error())
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, filesystem.NewIOError(err.Error())
	}
	return data, nil
}

func (fs *S3FS) Write(p string, data []byte, offset int64, flags filesystem.WriteFlag) (int64, error) {
	ctx := context.Background()
	if offset < filesystem.AppendOffset {
		return 0, filesystem.NewInvalidInputError(fmt.Sprintf("write offset %d", offset))
	}
	if fs.isRoot(p) {
		return 0, filesystem.ErrIsDirectory
	}
	if dir, err := fs.isDirectory(ctx, p); err != nil {
		return 0, err
	} else if dir {
		return 0, filesystem.ErrIsDirectory
	}

	// S3 has no partial writes, so every write is read-modify-write on the
	// whole object.
	key := fs.fileKey(p)
	existing, exists, err := fs.readFull(ctx, key)
	if err != nil {
		return 0, err
	}
	if exists && flags.Has(filesystem.WriteFlagCreate) && flags.Has(filesystem.WriteFlagExclusive) {
		return 0, filesystem.NewAlreadyExistsError("write", p)
	}
	if !exists && !flags.Has(filesystem.WriteFlagCreate) {
		return 0, filesystem.NewNotFoundError("write", p)
	}

	if flags.Has(filesystem.WriteFlagTruncate) {
		existing = nil
	}
	at := offset
	if flags.Has(filesystem.WriteFlagAppend) || offset == filesystem.AppendOffset {
		at = int64(len(existing))
	}
	content := existing
	// A zero-length write never extends the file, even at a far offset.
	if len(data) > 0 {
		end := at + int64(len(data))
		if gap := end - int64(len(content)); gap > 0 {
			content = append(content, make([]byte, gap)...)
		}
		copy(content[at:end], data)
	}

	if err := fs.putObject(ctx, key, content); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (fs *S3FS) Create(p string) error {
	ctx := context.Background()
	if fs.isRoot(p) {
		return filesystem.NewAlreadyExistsError("create", "/")
	}

	_, _, found, err := fs.headObject(ctx, fs.fileKey(p))
	if err != nil {
		return err
	}
	if found {
		return filesystem.NewAlreadyExistsError("create", p)
	}
	dir, err := fs.isDirectory(ctx, p)
	if err != nil {
		return err
	}
	if dir {
		return filesystem.NewAlreadyExistsError("create", p)
	}
	return fs.putObject(ctx, fs.fileKey(p), []byte{})
}

func (fs *S3FS) Mkdir(p string, mode uint32) error {
	ctx := context.Background()
	if fs.isRoot(p) {
		return filesystem.NewAlreadyExistsError("mkdir", "/")
	}

	_, _, found, err := fs.headObject(ctx, fs.fileKey(p))
	if err != nil {
		return err
	}
	if found {
		return filesystem.NewAlreadyExistsError("mkdir", p)
	}
	dir, err := fs.isDirectory(ctx, p)
	if err != nil {
		return err
	}
	if dir {
		return filesystem.NewAlreadyExistsError("mkdir", p)
	}
	// The mode is accepted but not stored; S3 has no permission bits.
	return fs.putObject(ctx, fs.dirKey(p), []byte{})
}

func (fs *S3FS) Remove(p string) error {
	ctx := context.Background()
	if fs.isRoot(p) {
		return filesystem.NewInvalidInputError("cannot remove root directory")
	}

	fileKey := fs.fileKey(p)
	_, _, isFile, err := fs.headObject(ctx, fileKey)
	if err != nil {
		return err
	}
	if isFile {
		return fs.deleteObject(ctx, fileKey)
	}

	dirKey := fs.dirKey(p)
	out, err := fs.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(fs.bucket),
		Prefix:  aws.String(dirKey),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return filesystem.NewIOError(err.Error())
	}
	hasMarker := false
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) == dirKey {
			hasMarker = true
			continue
		}
		return filesystem.NewError(filesystem.KindOther, fmt.Sprintf("remove %s: directory not empty", p))
	}
	if !hasMarker {
		// Implicit directories only exist through their children, so an
		// empty one is simply gone.
		return filesystem.NewNotFoundError("remove", p)
	}
	return fs.deleteObject(ctx, dirKey)
}

func (fs *S3FS) RemoveAll(p string) error {
	ctx := context.Background()

	var keys []string
	if fs.isRoot(p) {
		var err error
		keys, err = fs.listAllKeys(ctx, fs.dirKey(p))
		if err != nil {
			return err
		}
	} else {
		fileKey := fs.fileKey(p)
		_, _, isFile, err := fs.headObject(ctx, fileKey)
		if err != nil {
			return err
		}
		if isFile {
			keys = append(keys, fileKey)
		}
		sub, err := fs.listAllKeys(ctx, fs.dirKey(p))
		if err != nil {
			return err
		}
		keys = append(keys, sub...)
	}
	if len(keys) == 0 {
		// Removing what is already gone succeeds.
		return nil
	}
	return fs.deleteKeys(ctx, keys)
}

func (fs *S3FS) ReadDir(p string) ([]filesystem.FileInfo, error) {
	ctx := context.Background()
	dirKey := fs.dirKey(p)

	infos := []filesystem.FileInfo{}
	sawAny := false
	paginator := s3.NewListObjectsV2Paginator(fs.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(fs.bucket),
		Prefix:    aws.String(dirKey),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, filesystem.NewIOError(err.Error())
		}
		for _, obj := range page.Contents {
			sawAny = true
			key := aws.ToString(obj.Key)
			if key == dirKey {
				// The marker itself is not an entry.
				continue
			}
			infos = append(infos, fs.makeInfo(path.Base(key), false, aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified)))
		}
		for _, cp := range page.CommonPrefixes {
			sawAny = true
			name := path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
			infos = append(infos, fs.makeInfo(name, true, 0, time.Time{}))
		}
	}

	if !sawAny && !fs.isRoot(p) {
		// Nothing lives here: distinguish a plain file from a missing path.
		_, _, isFile, err := fs.headObject(ctx, fs.fileKey(p))
		if err != nil {
			return nil, err
		}
		if isFile {
			return nil, filesystem.ErrNotDirectory
		}
		return nil, filesystem.NewNotFoundError("readdir", p)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (fs *S3FS) Stat(p string) (*filesystem.FileInfo, error) {
	ctx := context.Background()
	if fs.isRoot(p) {
		info := fs.makeInfo("/", true, 0, time.Time{})
		return &info, nil
	}

	size, modTime, found, err := fs.headObject(ctx, fs.fileKey(p))
	if err != nil {
		return nil, err
	}
	if found {
		info := fs.makeInfo(path.Base(filesystem.NormalizePath(p)), false, size, modTime)
		return &info, nil
	}

	_, modTime, found, err = fs.headObject(ctx, fs.dirKey(p))
	if err != nil {
		return nil, err
	}
	if !found {
		ok, err := fs.hasChildren(ctx, fs.dirKey(p))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, filesystem.NewNotFoundError("stat", p)
		}
	}
	info := fs.makeInfo(path.Base(filesystem.NormalizePath(p)), true, 0, modTime)
	return &info, nil
}

func (fs *S3FS) Rename(oldPath, newPath string) error {
	ctx := context.Background()
	if fs.isRoot(oldPath) || fs.isRoot(newPath) {
		return filesystem.NewInvalidInputError("cannot rename root directory")
	}
	oldP := filesystem.NormalizePath(oldPath)
	newP := filesystem.NormalizePath(newPath)
	if oldP == newP {
		return nil
	}

	_, _, isFile, err := fs.headObject(ctx, fs.fileKey(oldP))
	if err != nil {
		return err
	}
	if isFile {
		// File-over-file replacement is allowed; a directory target is not.
		if dir, err := fs.isDirectory(ctx, newP); err != nil {
			return err
		} else if dir {
			return filesystem.NewAlreadyExistsError("rename", newP)
		}
		if err := fs.copyObject(ctx, fs.fileKey(oldP), fs.fileKey(newP)); err != nil {
			return err
		}
		return fs.deleteObject(ctx, fs.fileKey(oldP))
	}

	dir, err := fs.isDirectory(ctx, oldP)
	if err != nil {
		return err
	}
	if !dir {
		return filesystem.NewNotFoundError("rename", oldP)
	}
	if strings.HasPrefix(newP, oldP+"/") {
		return filesystem.NewInvalidInputError("cannot move a directory into itself")
	}
	_, _, targetFile, err := fs.headObject(ctx, fs.fileKey(newP))
	if err != nil {
		return err
	}
	targetDir, err := fs.isDirectory(ctx, newP)
	if err != nil {
		return err
	}
	if targetFile || targetDir {
		return filesystem.NewAlreadyExistsError("rename", newP)
	}

	// S3 has no rename, so the subtree is copied key by key and the old
	// keys deleted afterwards.
	oldKeyPrefix := fs.dirKey(oldP)
	newKeyPrefix := fs.dirKey(newP)
	keys, err := fs.listAllKeys(ctx, oldKeyPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := fs.copyObject(ctx, k, newKeyPrefix+k[len(oldKeyPrefix):]); err != nil {
			return err
		}
	}
	return fs.deleteKeys(ctx, keys)
}

// Chmod is a successful no-op: object storage has no permission bits.
func (fs *S3FS) Chmod(p string, mode uint32) error {
	return nil
}

// Truncate changes a file's size in place, zero-filling on extension.
func (fs *S3FS) Truncate(p string, size int64) error {
	ctx := context.Background()
	if size < 0 {
		return filesystem.NewInvalidInputError(fmt.Sprintf("truncate size %d", size))
	}
	if fs.isRoot(p) {
		return filesystem.ErrIsDirectory
	}

	key := fs.fileKey(p)
	data, found, err := fs.readFull(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		dir, derr := fs.isDirectory(ctx, p)
		if derr != nil {
			return derr
		}
		if dir {
			return filesystem.ErrIsDirectory
		}
		return filesystem.NewNotFoundError("truncate", p)
	}

	if int64(len(data)) == size {
		return nil
	}
	if size < int64(len(data)) {
		data = data[:size]
	} else {
		data = append(data, make([]byte, size-int64(len(data)))...)
	}
	return fs.putObject(ctx, key, data)
}

// Open streams the object body without buffering it in memory.
func (fs *S3FS) Open(p string) (io.ReadCloser, error) {
	ctx := context.Background()
	if fs.isRoot(p) {
		return nil, filesystem.ErrIsDirectory
	}

	out, err := fs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.fileKey(p)),
	})
	if err != nil {
		if notFoundErr(err) {
			dir, derr := fs.isDirectory(ctx, p)
			if derr != nil {
				return nil, derr
			}
			if dir {
				return nil, filesystem.ErrIsDirectory
			}
			return nil, filesystem.NewNotFoundError("open", p)
		}
		return nil, filesystem.NewIOError(err.Error())
	}
	return out.Body, nil
}

func (fs *S3FS) OpenWrite(p string) (io.WriteCloser, error) {
	ctx := context.Background()
	if fs.isRoot(p) {
		return nil, filesystem.ErrIsDirectory
	}
	if dir, err := fs.isDirectory(ctx, p); err != nil {
		return nil, err
	} else if dir {
		return nil, filesystem.ErrIsDirectory
	}
	return filesystem.NewBufferedWriter(p, fs.Write), nil
}

func (fs *S3FS) makeInfo(name string, isDir bool, size int64, modTime time.Time) filesystem.FileInfo {
	typ := "file"
	mode := uint32(0644)
	if isDir {
		typ = "directory"
		mode = 0755
	}
	return filesystem.FileInfo{
		Name:    name,
		Size:    size,
		Mode:    mode,
		ModTime: modTime,
		IsDir:   isDir,
		Meta: filesystem.MetaData{
			Name: PluginName,
			Type: typ,
			Content: map[string]string{
				"bucket": fs.bucket,
				"prefix": fs.prefix,
			},
		},
	}
}

var _ filesystem.FileSystem = (*S3FS)(nil)
var _ filesystem.Truncater = (*S3FS)(nil)
