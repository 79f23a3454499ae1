package objectstore

import (
	"fmt"
	"strings"
)

// Location is a bucket and a key within it.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	if l.Key == "" {
		return "s3://" + l.Bucket
	}
	return "s3://" + l.Bucket + "/" + l.Key
}

// ParsePath splits an s3:// (or s3a://, s3n://) URI into bucket and key.
// Trailing slashes are trimmed from the key, so "s3://b/a/b/" and
// "s3://b/a/b" name the same location.
func ParsePath(path string) (Location, error) {
	rest, ok := trimScheme(path)
	if !ok {
		return Location{}, fmt.Errorf("objectstore: unsupported path %q", path)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("objectstore: path %q has no bucket", path)
	}
	return Location{Bucket: bucket, Key: strings.TrimRight(key, "/")}, nil
}

func trimScheme(path string) (string, bool) {
	for _, scheme := range []string{"s3://", "s3a://", "s3n://"} {
		if strings.HasPrefix(path, scheme) {
			return strings.TrimPrefix(path, scheme), true
		}
	}
	return "", false
}

// NormalizeKey strips an s3://bucket/ prefix to return a bucket-relative key.
// Non-S3 paths are returned unchanged.
func NormalizeKey(path string) string {
	loc, err := ParsePath(path)
	if err != nil {
		return path
	}
	return loc.Key
}

// Parent returns the key's parent directory, or "" at the bucket root.
func Parent(key string) string {
	key = strings.TrimRight(key, "/")
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i]
}

// Base returns the last component of the key.
func Base(key string) string {
	key = strings.TrimRight(key, "/")
	return key[strings.LastIndex(key, "/")+1:]
}
