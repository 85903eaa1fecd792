// Package s3 implements the storage adapter over an S3-compatible object
// store.
//
// Directories are simulated: a common prefix observed under a delimiter
// listing is a directory, and Mkdir materializes an empty directory as a
// zero-byte placeholder object whose key ends in "/". Deletes are permanent,
// there is no trash on this backend.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/filehaven/filehaven/pkg/storage"
	"github.com/filehaven/filehaven/pkg/vpath"
)

// Adapter is an object-store-backed storage adapter scoped to one bucket and
// an optional key prefix.
type Adapter struct {
	client API
	bucket string
	prefix string // normalized: empty, or "a/b/" with trailing slash
}

// New creates an adapter over the given bucket. A non-empty prefix confines
// all keys under it.
func New(client API, bucket, prefix string) *Adapter {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Adapter{client: client, bucket: bucket, prefix: prefix}
}

// key maps a normalized virtual path to its object key. Root maps to the
// bare profile prefix.
func (a *Adapter) key(normalized string) string {
	return a.prefix + strings.TrimPrefix(normalized, "/")
}

// normalize validates a virtual path for this backend. Trash paths are
// reserved across all backends even though S3 has no trash.
func (a *Adapter) normalize(virtual string) (string, error) {
	normalized, err := vpath.Normalize(virtual)
	if err != nil {
		return "", err
	}
	if vpath.IsTrashPath(normalized) {
		return "", vpath.ErrInvalidPath
	}
	return normalized, nil
}

// List returns the immediate members of the directory at path using a
// delimiter listing. Directory placeholders are hidden from the result and
// simulated directories report the current time as their mtime.
func (a *Adapter) List(ctx context.Context, virtual string, opts storage.ListOptions) (*storage.ListResult, error) {
	normalized, err := a.normalize(virtual)
	if err != nil {
		return nil, err
	}

	keyPrefix := a.prefix
	if normalized != "/" {
		keyPrefix = a.key(normalized) + "/"
	}

	now := time.Now().UnixMilli()
	var entries []storage.Entry

	paginator := awss3.NewListObjectsV2Paginator(a.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(a.bucket),
		Prefix:    aws.String(keyPrefix),
		Delimiter: aws.String("/"),
	})
	seen := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			seen = true
			name := path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
			entries = append(entries, storage.Entry{
				Name:  name,
				Type:  storage.TypeDir,
				MTime: now,
			})
		}
		for _, obj := range page.Contents {
			seen = true
			key := aws.ToString(obj.Key)
			if key == keyPrefix {
				// The directory's own placeholder object.
				continue
			}
			entry := storage.Entry{
				Name: path.Base(key),
				Type: storage.TypeFile,
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				entry.MTime = obj.LastModified.UnixMilli()
			}
			entries = append(entries, entry)
		}
	}

	if !seen && normalized != "/" {
		// Nothing under the prefix. Either the path is a plain object or it
		// does not exist at all.
		entry, err := a.Stat(ctx, normalized)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, vpath.ErrNotFound
		}
		if entry.Type == storage.TypeFile {
			return nil, storage.ErrNotDirectory
		}
	}

	storage.SortEntries(entries)
	total := len(entries)
	return &storage.ListResult{
		Entries: storage.Page(entries, opts),
		Total:   total,
	}, nil
}

// Stat returns the entry at path, or nil if nothing exists there. A path is a
// directory when any key lives under it, or when its placeholder exists.
func (a *Adapter) Stat(ctx context.Context, virtual string) (*storage.Entry, error) {
	normalized, err := a.normalize(virtual)
	if err != nil {
		return nil, err
	}
	if normalized == "/" {
		return &storage.Entry{Name: "/", Type: storage.TypeDir, MTime: time.Now().UnixMilli()}, nil
	}

	key := a.key(normalized)
	head, err := a.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		entry := storage.Entry{
			Name: path.Base(normalized),
			Type: storage.TypeFile,
			Size: aws.ToInt64(head.ContentLength),
		}
		if head.LastModified != nil {
			entry.MTime = head.LastModified.UnixMilli()
		}
		return &entry, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("head object: %w", err)
	}

	isDir, err := a.prefixExists(ctx, key+"/")
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, nil
	}
	return &storage.Entry{
		Name:  path.Base(normalized),
		Type:  storage.TypeDir,
		MTime: time.Now().UnixMilli(),
	}, nil
}

// Read returns the full content of the object at path.
func (a *Adapter) Read(ctx context.Context, virtual string) ([]byte, error) {
	normalized, err := a.normalize(virtual)
	if err != nil {
		return nil, err
	}
	if normalized == "/" {
		return nil, storage.ErrIsDirectory
	}

	out, err := a.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(normalized)),
	})
	if err != nil {
		if isNotFound(err) {
			isDir, probeErr := a.prefixExists(ctx, a.key(normalized)+"/")
			if probeErr != nil {
				return nil, probeErr
			}
			if isDir {
				return nil, storage.ErrIsDirectory
			}
			return nil, vpath.ErrNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Write stores data at path. Parent directories need no materialization on
// this backend; refuses to shadow an existing directory.
func (a *Adapter) Write(ctx context.Context, virtual string, data []byte) error {
	normalized, err := a.normalize(virtual)
	if err != nil {
		return err
	}
	if normalized == "/" {
		return vpath.ErrInvalidPath
	}
	if err := vpath.CheckLeaf(path.Base(normalized)); err != nil {
		return err
	}

	key := a.key(normalized)
	isDir, err := a.prefixExists(ctx, key+"/")
	if err != nil {
		return err
	}
	if isDir {
		return storage.ErrIsDirectory
	}

	_, err = a.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Delete removes the object at path, or everything under it when it is a
// directory. Deletes on this backend are permanent and idempotent.
func (a *Adapter) Delete(ctx context.Context, virtual string) error {
	normalized, err := a.normalize(virtual)
	if err != nil {
		return err
	}
	if normalized == "/" {
		return vpath.ErrInvalidPath
	}

	key := a.key(normalized)
	if err := a.forEachKey(ctx, key+"/", func(k string) error {
		return a.deleteKey(ctx, k)
	}); err != nil {
		return err
	}
	return a.deleteKey(ctx, key)
}

// Move relocates an entry via copy-then-delete. Object stores have no
// rename.
func (a *Adapter) Move(ctx context.Context, source, dest string) error {
	if err := a.Copy(ctx, source, dest); err != nil {
		return err
	}
	return a.Delete(ctx, source)
}

// Copy duplicates an entry. A directory copy enumerates every key under the
// source prefix and server-side copies each one.
func (a *Adapter) Copy(ctx context.Context, source, dest string) error {
	srcNorm, destNorm, srcEntry, err := a.resolvePair(ctx, source, dest)
	if err != nil {
		return err
	}

	srcKey := a.key(srcNorm)
	destKey := a.key(destNorm)

	if srcEntry.Type == storage.TypeFile {
		return a.copyKey(ctx, srcKey, destKey)
	}
	return a.forEachKey(ctx, srcKey+"/", func(k string) error {
		rel := strings.TrimPrefix(k, srcKey+"/")
		return a.copyKey(ctx, srcKey+"/"+rel, destKey+"/"+rel)
	})
}

// Mkdir materializes a directory as a zero-byte placeholder object.
// Idempotent.
func (a *Adapter) Mkdir(ctx context.Context, virtual string) error {
	normalized, err := a.normalize(virtual)
	if err != nil {
		return err
	}
	if normalized == "/" {
		return nil
	}
	if err := vpath.CheckLeaf(path.Base(normalized)); err != nil {
		return err
	}

	entry, err := a.Stat(ctx, normalized)
	if err != nil {
		return err
	}
	if entry != nil {
		if entry.Type == storage.TypeFile {
			return storage.ErrConflict
		}
		return nil
	}

	_, err = a.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(normalized) + "/"),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("put directory placeholder: %w", err)
	}
	return nil
}

// Exists reports whether an entry exists at path.
func (a *Adapter) Exists(ctx context.Context, virtual string) (bool, error) {
	entry, err := a.Stat(ctx, virtual)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// resolvePair validates a source that must exist and a destination that must
// not, and applies the into-itself guard.
func (a *Adapter) resolvePair(ctx context.Context, source, dest string) (srcNorm, destNorm string, srcEntry *storage.Entry, err error) {
	srcNorm, err = a.normalize(source)
	if err != nil {
		return "", "", nil, err
	}
	if srcNorm == "/" {
		return "", "", nil, vpath.ErrInvalidPath
	}
	destNorm, err = a.normalize(dest)
	if err != nil {
		return "", "", nil, err
	}
	if destNorm == "/" {
		return "", "", nil, vpath.ErrInvalidPath
	}
	if err := vpath.CheckLeaf(path.Base(destNorm)); err != nil {
		return "", "", nil, err
	}

	srcEntry, err = a.Stat(ctx, srcNorm)
	if err != nil {
		return "", "", nil, err
	}
	if srcEntry == nil {
		return "", "", nil, vpath.ErrNotFound
	}

	if destNorm == srcNorm || strings.HasPrefix(destNorm, srcNorm+"/") {
		return "", "", nil, storage.ErrIntoItself
	}

	destEntry, err := a.Stat(ctx, destNorm)
	if err != nil {
		return "", "", nil, err
	}
	if destEntry != nil {
		return "", "", nil, storage.ErrConflict
	}
	return srcNorm, destNorm, srcEntry, nil
}

// prefixExists reports whether any key lives under the given prefix,
// including a bare placeholder.
func (a *Adapter) prefixExists(ctx context.Context, keyPrefix string) (bool, error) {
	out, err := a.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(keyPrefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("probe prefix: %w", err)
	}
	return aws.ToInt32(out.KeyCount) > 0, nil
}

// forEachKey enumerates every key under the prefix (no delimiter) and calls
// fn for each.
func (a *Adapter) forEachKey(ctx context.Context, keyPrefix string, fn func(key string) error) error {
	paginator := awss3.NewListObjectsV2Paginator(a.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if err := fn(aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Adapter) deleteKey(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (a *Adapter) copyKey(ctx context.Context, srcKey, destKey string) error {
	_, err := a.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		CopySource: aws.String(a.bucket + "/" + srcKey),
		Key:        aws.String(destKey),
	})
	if err != nil {
		return fmt.Errorf("copy object: %w", err)
	}
	return nil
}
