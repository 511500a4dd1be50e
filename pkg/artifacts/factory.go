package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// NewStoreFromURL creates a store from a location URL:
//
//	s3://bucket/prefix     → S3Store (region from AWS_REGION, default us-east-1)
//	gs://bucket/prefix     → GCSStore
//	anything else          → FileStore rooted at that directory
func NewStoreFromURL(ctx context.Context, location string) (Store, error) {
	switch {
	case strings.HasPrefix(location, "s3://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("artifacts: parse %s: %w", location, err)
		}
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   u.Host,
			Region:   region,
			Endpoint: os.Getenv("S3_ENDPOINT"),
			Prefix:   keyPrefix(u.Path),
		})
	case strings.HasPrefix(location, "gs://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("artifacts: parse %s: %w", location, err)
		}
		return NewGCSStore(ctx, GCSStoreConfig{
			Bucket: u.Host,
			Prefix: keyPrefix(u.Path),
		})
	default:
		return NewFileStore(location)
	}
}

func keyPrefix(path string) string {
	p := strings.Trim(path, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
