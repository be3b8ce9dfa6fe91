package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"dirlister/internal/dircache"
	"dirlister/internal/fileitem"
	"dirlister/internal/location"
	"dirlister/internal/logging"
)

const (
	SchemeS3 = "s3"

	DefaultS3PageSize = 1000
)

// S3API is the subset of *s3.Client the source uses.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type S3Options struct {
	Client S3API
	// PageSize caps keys per ListObjectsV2 page.
	PageSize int32
	// RequestsPerSecond limits list and head requests. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	Logger            *logging.Logger
}

// S3 lists s3://bucket/prefix locations. Key prefixes ending in "/" are
// presented as directories.
type S3 struct {
	client   S3API
	pageSize int32
	limiter  *rate.Limiter
	logger   *logging.Logger
}

var _ dircache.Source = (*S3)(nil)

func NewS3(options S3Options) (*S3, error) {
	if options.Client == nil {
		return nil, errors.New("s3 client is required")
	}
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = DefaultS3PageSize
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if options.RequestsPerSecond > 0 {
		burst := options.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.RequestsPerSecond), burst)
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &S3{
		client:   options.Client,
		pageSize: pageSize,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

func (source *S3) Enumerate(ctx context.Context, loc location.Location, sink dircache.Sink) error {
	bucket, prefix, err := splitS3(loc)
	if err != nil {
		return err
	}
	sink.Root(dirItem(rootName(bucket, prefix)))

	paginator := s3.NewListObjectsV2Paginator(source.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(source.pageSize),
	})

	found := prefix == ""
	pages := 0
	for paginator.HasMorePages() {
		if err := source.limiter.Wait(ctx); err != nil {
			return err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		pages++

		batch := make([]fileitem.Item, 0, len(page.CommonPrefixes)+len(page.Contents))
		for _, common := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(common.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			batch = append(batch, dirItem(name))
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if key == prefix {
				// Folder marker object.
				found = true
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			batch = append(batch, objectItem(name, object))
		}
		if len(batch) > 0 {
			found = true
			sink.Entries(batch)
		}
	}
	if !found {
		return fmt.Errorf("%w: s3://%s/%s", fs.ErrNotExist, bucket, prefix)
	}
	source.logger.Debug("s3 listing done", map[string]string{
		"location": loc.String(),
		"pages":    fmt.Sprintf("%d", pages),
	})
	return nil
}

func (source *S3) Stat(ctx context.Context, loc location.Location) (fileitem.Item, error) {
	bucket, prefix, err := splitS3(loc)
	if err != nil {
		return fileitem.Item{}, err
	}
	if prefix == "" {
		return dirItem(bucket), nil
	}
	key := strings.TrimSuffix(prefix, "/")

	if err := source.limiter.Wait(ctx); err != nil {
		return fileitem.Item{}, err
	}
	head, err := source.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		item := fileitem.Item{
			Name: path.Base(key),
			Kind: fileitem.KindFile,
			Size: aws.ToInt64(head.ContentLength),
			Mode: 0o644,
		}
		if head.LastModified != nil {
			item.ModTime = *head.LastModified
		}
		item.Attrs = objectAttrs(aws.ToString(head.ETag), string(head.StorageClass))
		return item, nil
	}
	if !isS3NotFound(err) {
		return fileitem.Item{}, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	// No object under the key; it is a directory if anything lives below it.
	if err := source.limiter.Wait(ctx); err != nil {
		return fileitem.Item{}, err
	}
	listed, err := source.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fileitem.Item{}, fmt.Errorf("list s3://%s/%s/: %w", bucket, key, err)
	}
	if len(listed.Contents) == 0 && len(listed.CommonPrefixes) == 0 {
		return fileitem.Item{}, fmt.Errorf("%w: s3://%s/%s", fs.ErrNotExist, bucket, key)
	}
	return dirItem(path.Base(key)), nil
}

// splitS3 maps s3://bucket/a/b to ("bucket", "a/b/").
func splitS3(loc location.Location) (string, string, error) {
	if loc.Scheme() != SchemeS3 {
		return "", "", fmt.Errorf("s3 source cannot handle %s", loc)
	}
	bucket := loc.Host()
	if bucket == "" {
		return "", "", fmt.Errorf("s3 location %s has no bucket", loc)
	}
	prefix := strings.TrimPrefix(loc.Path(), "/")
	if prefix != "" {
		prefix += "/"
	}
	return bucket, prefix, nil
}

func rootName(bucket, prefix string) string {
	if prefix == "" {
		return bucket
	}
	return path.Base(strings.TrimSuffix(prefix, "/"))
}

func dirItem(name string) fileitem.Item {
	return fileitem.Item{
		Name: name,
		Kind: fileitem.KindDir,
		Mode: fs.ModeDir | 0o755,
	}
}

func objectItem(name string, object types.Object) fileitem.Item {
	item := fileitem.Item{
		Name: name,
		Kind: fileitem.KindFile,
		Size: aws.ToInt64(object.Size),
		Mode: 0o644,
	}
	if object.LastModified != nil {
		item.ModTime = *object.LastModified
	}
	if object.Owner != nil {
		item.Owner = aws.ToString(object.Owner.DisplayName)
	}
	item.Attrs = objectAttrs(aws.ToString(object.ETag), string(object.StorageClass))
	return item
}

func objectAttrs(etag, storageClass string) fileitem.Attributes {
	values := make(map[string]fileitem.Value, 2)
	if etag != "" {
		values["etag"] = fileitem.String(strings.Trim(etag, `"`))
	}
	if storageClass != "" {
		values["storage_class"] = fileitem.String(storageClass)
	}
	return fileitem.NewAttributes(values)
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
