package source

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirlister/internal/dircache"
	"dirlister/internal/fileitem"
	"dirlister/internal/location"
)

// fakeS3 serves a flat key space and pages ListObjectsV2 by MaxKeys.
type fakeS3 struct {
	keys      []string
	modified  time.Time
	listCalls int
	headCalls int
}

func (fake *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	fake.listCalls++
	prefix := aws.ToString(params.Prefix)
	delimiter := aws.ToString(params.Delimiter)
	maxKeys := int(aws.ToInt32(params.MaxKeys))
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		for index, key := range fake.entries(prefix, delimiter) {
			if key == token {
				start = index
				break
			}
		}
	}

	entries := fake.entries(prefix, delimiter)
	output := &s3.ListObjectsV2Output{}
	end := start + maxKeys
	if end < len(entries) {
		output.IsTruncated = aws.Bool(true)
		output.NextContinuationToken = aws.String(entries[end])
	} else {
		end = len(entries)
		output.IsTruncated = aws.Bool(false)
	}
	for _, entry := range entries[start:end] {
		if delimiter != "" && strings.Contains(strings.TrimPrefix(entry, prefix), delimiter) {
			output.CommonPrefixes = append(output.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(entry)})
			continue
		}
		output.Contents = append(output.Contents, types.Object{
			Key:          aws.String(entry),
			Size:         aws.Int64(int64(len(entry))),
			LastModified: aws.Time(fake.modified),
			ETag:         aws.String(`"etag-` + entry + `"`),
			StorageClass: types.ObjectStorageClassStandard,
		})
	}
	return output, nil
}

func (fake *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	fake.headCalls++
	key := aws.ToString(params.Key)
	if !fake.hasKey(key) {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(key))),
		LastModified:  aws.Time(fake.modified),
		ETag:          aws.String(`"etag-` + key + `"`),
	}, nil
}

func (fake *fakeS3) hasKey(key string) bool {
	for _, candidate := range fake.keys {
		if candidate == key {
			return true
		}
	}
	return false
}

// entries returns the sorted keys and common prefixes directly under prefix.
func (fake *fakeS3) entries(prefix, delimiter string) []string {
	seen := make(map[string]struct{})
	var entries []string
	for _, key := range fake.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry := key
		if delimiter != "" {
			rest := strings.TrimPrefix(key, prefix)
			if index := strings.Index(rest, delimiter); index >= 0 {
				entry = prefix + rest[:index+len(delimiter)]
			}
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		entries = append(entries, entry)
	}
	return entries
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		keys: []string{
			"docs/",
			"docs/a.txt",
			"docs/b.txt",
			"docs/img/logo.png",
			"docs/img/icon.png",
			"top.txt",
		},
		modified: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestS3EnumerateSplitsPrefixesAndObjects(t *testing.T) {
	fake := newFakeS3()
	source, err := NewS3(S3Options{Client: fake})
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, source.Enumerate(context.Background(), location.MustParse("s3://bucket/docs"), sink))

	assert.Equal(t, "docs", sink.root.Name)
	assert.Equal(t, fileitem.KindDir, sink.root.Kind)

	items := sink.items()
	require.Len(t, items, 3)
	assert.Equal(t, fileitem.KindDir, items["img"].Kind)
	assert.Equal(t, fileitem.KindFile, items["a.txt"].Kind)
	assert.Equal(t, int64(len("docs/a.txt")), items["a.txt"].Size)
	assert.True(t, items["a.txt"].ModTime.Equal(fake.modified))

	etag, ok := items["a.txt"].Attrs.Get("etag")
	require.True(t, ok)
	value, _ := etag.Str()
	assert.Equal(t, "etag-docs/a.txt", value)
}

func TestS3EnumeratePagesIntoBatches(t *testing.T) {
	fake := newFakeS3()
	source, err := NewS3(S3Options{Client: fake, PageSize: 1})
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, source.Enumerate(context.Background(), location.MustParse("s3://bucket/docs"), sink))

	assert.Len(t, sink.items(), 3)
	assert.GreaterOrEqual(t, fake.listCalls, 3)
}

func TestS3EnumerateBucketRoot(t *testing.T) {
	source, err := NewS3(S3Options{Client: newFakeS3()})
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, source.Enumerate(context.Background(), location.MustParse("s3://bucket/"), sink))

	assert.Equal(t, "bucket", sink.root.Name)
	items := sink.items()
	require.Len(t, items, 2)
	assert.Equal(t, fileitem.KindDir, items["docs"].Kind)
	assert.Equal(t, fileitem.KindFile, items["top.txt"].Kind)
}

func TestS3EnumerateMissingPrefix(t *testing.T) {
	source, err := NewS3(S3Options{Client: newFakeS3()})
	require.NoError(t, err)

	err = source.Enumerate(context.Background(), location.MustParse("s3://bucket/nothing"), &recordingSink{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, dircache.KindNotFound, dircache.Classify(err))
}

func TestS3StatObjectAndPrefix(t *testing.T) {
	fake := newFakeS3()
	source, err := NewS3(S3Options{Client: fake})
	require.NoError(t, err)

	item, err := source.Stat(context.Background(), location.MustParse("s3://bucket/docs/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b.txt", item.Name)
	assert.Equal(t, fileitem.KindFile, item.Kind)

	dir, err := source.Stat(context.Background(), location.MustParse("s3://bucket/docs/img"))
	require.NoError(t, err)
	assert.Equal(t, "img", dir.Name)
	assert.Equal(t, fileitem.KindDir, dir.Kind)

	_, err = source.Stat(context.Background(), location.MustParse("s3://bucket/docs/none"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestS3RateLimitHonorsContext(t *testing.T) {
	source, err := NewS3(S3Options{Client: newFakeS3(), RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	// The first request consumes the burst; the second must wait and time out.
	_, err = source.Stat(context.Background(), location.MustParse("s3://bucket/top.txt"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = source.Stat(ctx, location.MustParse("s3://bucket/top.txt"))
	require.Error(t, err)
}

func TestNewS3RequiresClient(t *testing.T) {
	_, err := NewS3(S3Options{})
	require.Error(t, err)
}

func TestS3RejectsOtherSchemes(t *testing.T) {
	source, err := NewS3(S3Options{Client: newFakeS3()})
	require.NoError(t, err)
	_, err = source.Stat(context.Background(), location.FromPath("/tmp"))
	require.Error(t, err)
}
