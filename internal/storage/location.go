package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	SchemeS3   = "s3"
	SchemeFile = "file"
)

var ErrUnsupportedScheme = errors.New("unsupported storage scheme")

// Location is a parsed storage root. For S3 roots Bucket is set and Prefix is the key
// prefix without leading or trailing slashes. For local roots Prefix is an absolute
// directory.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

// ParseLocation parses roots such as "s3a://udacity-dend/", "s3://bucket/lake",
// "file:///tmp/lake" or "/tmp/lake". s3a and s3n are treated as s3.
func ParseLocation(root string) (Location, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return Location{}, errors.New("empty storage root")
	}

	scheme, rest, found := strings.Cut(root, "://")
	if !found {
		return localLocation(root)
	}

	switch strings.ToLower(scheme) {
	case "s3", "s3a", "s3n":
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("missing bucket in %q", root)
		}
		return Location{
			Scheme: SchemeS3,
			Bucket: bucket,
			Prefix: strings.Trim(prefix, "/"),
		}, nil
	case "file":
		return localLocation(rest)
	default:
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

func localLocation(dir string) (Location, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Location{}, fmt.Errorf("resolve %q: %w", dir, err)
	}
	return Location{Scheme: SchemeFile, Prefix: abs}, nil
}

// IsS3 reports whether the location addresses S3.
func (l Location) IsS3() bool {
	return l.Scheme == SchemeS3
}

// ObjectKey returns the full S3 key for a key relative to the location. A trailing
// slash is kept so prefixes stay directory-like.
func (l Location) ObjectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if l.Prefix == "" {
		return key
	}
	return l.Prefix + "/" + key
}

// Relative strips the location prefix from a full S3 key.
func (l Location) Relative(objectKey string) string {
	if l.Prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(strings.TrimPrefix(objectKey, l.Prefix), "/")
}

func (l Location) String() string {
	if l.IsS3() {
		if l.Prefix == "" {
			return fmt.Sprintf("s3://%s/", l.Bucket)
		}
		return fmt.Sprintf("s3://%s/%s/", l.Bucket, l.Prefix)
	}
	return "file://" + filepath.ToSlash(l.Prefix)
}
