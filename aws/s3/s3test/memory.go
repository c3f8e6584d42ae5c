// Package s3test provides an in-memory S3 backend for tests.
//
// MemoryAPI implements the subset of the S3 API used by the s3 package and
// records how it was called, so tests can assert on transfer strategy (single
// put or multipart, number of parts, aborts) as well as on stored bytes.
package s3test

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/s3api"
)

// Stored is an object held by MemoryAPI.
type Stored struct {
	Body         []byte
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
}

type multipartUpload struct {
	bucket string
	key    string
	stored Stored
	parts  map[int32][]byte
}

// MemoryAPI is a concurrency-safe, in-memory S3 backend.
//
// Failure hooks let tests inject errors. A hook returning a non-nil error
// makes the call fail with that error before any state changes.
type MemoryAPI struct {
	// FailPutObject is consulted on every PutObject.
	FailPutObject func(bucket, key string) error

	// FailUploadPart is consulted on every UploadPart.
	FailUploadPart func(key string, partNumber int32) error

	// FailGetObject is consulted on every GetObject.
	FailGetObject func(bucket, key string) error

	// FailListObjects is consulted on every ListObjectsV2 page.
	FailListObjects func(bucket string, page int) error

	mu       sync.Mutex
	objects  map[string]map[string]Stored
	uploads  map[string]*multipartUpload
	nextID   int
	pages    int
	putCalls int
	partCall int
	parts    map[string]int
	aborted  []string
	complete []string
}

var _ s3api.S3API = (*MemoryAPI)(nil)

// NewMemoryAPI creates an empty backend. Buckets spring into existence on
// first write.
func NewMemoryAPI() *MemoryAPI {
	return &MemoryAPI{
		objects: make(map[string]map[string]Stored),
		uploads: make(map[string]*multipartUpload),
		parts:   make(map[string]int),
	}
}

// Seed stores body under bucket/key without recording a PutObject call.
func (m *MemoryAPI) Seed(bucket, key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(bucket, key, Stored{Body: bytes.Clone(body), LastModified: time.Now()})
}

// Object returns the object stored at bucket/key.
func (m *MemoryAPI) Object(bucket, key string) (Stored, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[bucket][key]
	return obj, ok
}

// Keys returns the keys in bucket in lexical order.
func (m *MemoryAPI) Keys(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedKeys(bucket)
}

// PutObjectCalls returns the number of PutObject calls received.
func (m *MemoryAPI) PutObjectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCalls
}

// UploadPartCalls returns the number of UploadPart calls received.
func (m *MemoryAPI) UploadPartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partCall
}

// PartsFor returns the number of parts in the completed multipart upload of key.
func (m *MemoryAPI) PartsFor(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parts[key]
}

// Aborted returns the keys whose multipart uploads were aborted.
func (m *MemoryAPI) Aborted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.aborted)
}

// Completed returns the keys whose multipart uploads were completed.
func (m *MemoryAPI) Completed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.complete)
}

// PendingUploads returns the number of multipart uploads neither completed nor aborted.
func (m *MemoryAPI) PendingUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// PutObject stores an object.
func (m *MemoryAPI) PutObject(
	ctx context.Context,
	params *s3.PutObjectInput,
	_ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bucket, key := aws.ToString(params.Bucket), aws.ToString(params.Key)

	m.mu.Lock()
	m.putCalls++
	hook := m.FailPutObject
	m.mu.Unlock()

	if hook != nil {
		if err := hook(bucket, key); err != nil {
			return nil, err
		}
	}

	var body []byte
	if params.Body != nil {
		data, err := io.ReadAll(params.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		body = data
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(bucket, key, Stored{
		Body:         body,
		ContentType:  aws.ToString(params.ContentType),
		Metadata:     params.Metadata,
		LastModified: time.Now(),
	})

	return &s3.PutObjectOutput{ETag: aws.String(etag(body))}, nil
}

// GetObject returns a stored object.
func (m *MemoryAPI) GetObject(
	ctx context.Context,
	params *s3.GetObjectInput,
	_ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bucket, key := aws.ToString(params.Bucket), aws.ToString(params.Key)

	m.mu.Lock()
	hook := m.FailGetObject
	obj, ok := m.objects[bucket][key]
	m.mu.Unlock()

	if hook != nil {
		if err := hook(bucket, key); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, &awstypes.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.Body)),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(obj.ContentType),
		ETag:          aws.String(etag(obj.Body)),
		LastModified:  aws.Time(obj.LastModified),
	}, nil
}

// ListObjectsV2 lists keys in lexical order. Continuation tokens are the last
// key of the previous page.
func (m *MemoryAPI) ListObjectsV2(
	ctx context.Context,
	params *s3.ListObjectsV2Input,
	_ ...func(*s3.Options),
) (*s3.ListObjectsV2Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bucket := aws.ToString(params.Bucket)
	prefix := aws.ToString(params.Prefix)

	m.mu.Lock()
	defer m.mu.Unlock()

	page := m.pages
	m.pages++
	if m.FailListObjects != nil {
		if err := m.FailListObjects(bucket, page); err != nil {
			return nil, err
		}
	}

	after := aws.ToString(params.StartAfter)
	if params.ContinuationToken != nil {
		after = aws.ToString(params.ContinuationToken)
	}

	maxKeys := int(aws.ToInt32(params.MaxKeys))
	if maxKeys <= 0 || maxKeys > 1000 {
		maxKeys = 1000
	}

	out := &s3.ListObjectsV2Output{
		Name:   params.Bucket,
		Prefix: params.Prefix,
	}

	for _, key := range m.sortedKeys(bucket) {
		if !strings.HasPrefix(key, prefix) || (after != "" && key <= after) {
			continue
		}
		if len(out.Contents) == maxKeys {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = out.Contents[len(out.Contents)-1].Key
			break
		}

		obj := m.objects[bucket][key]
		out.Contents = append(out.Contents, awstypes.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.Body))),
			ETag:         aws.String(etag(obj.Body)),
			LastModified: aws.Time(obj.LastModified),
			StorageClass: awstypes.ObjectStorageClassStandard,
		})
	}

	if out.IsTruncated == nil {
		out.IsTruncated = aws.Bool(false)
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))

	return out, nil
}

// CreateMultipartUpload starts a multipart upload.
func (m *MemoryAPI) CreateMultipartUpload(
	ctx context.Context,
	params *s3.CreateMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.CreateMultipartUploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := "upload-" + strconv.Itoa(m.nextID)
	m.uploads[id] = &multipartUpload{
		bucket: aws.ToString(params.Bucket),
		key:    aws.ToString(params.Key),
		stored: Stored{
			ContentType: aws.ToString(params.ContentType),
			Metadata:    params.Metadata,
		},
		parts: make(map[int32][]byte),
	}

	return &s3.CreateMultipartUploadOutput{
		Bucket:   params.Bucket,
		Key:      params.Key,
		UploadId: aws.String(id),
	}, nil
}

// UploadPart stores one part of a multipart upload.
func (m *MemoryAPI) UploadPart(
	ctx context.Context,
	params *s3.UploadPartInput,
	_ ...func(*s3.Options),
) (*s3.UploadPartOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := aws.ToString(params.Key)
	number := aws.ToInt32(params.PartNumber)

	m.mu.Lock()
	m.partCall++
	hook := m.FailUploadPart
	m.mu.Unlock()

	if hook != nil {
		if err := hook(key, number); err != nil {
			return nil, err
		}
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, fmt.Errorf("read part body: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, &awstypes.NoSuchUpload{Message: aws.String("unknown upload id")}
	}
	up.parts[number] = data

	return &s3.UploadPartOutput{ETag: aws.String(etag(data))}, nil
}

// CompleteMultipartUpload assembles the listed parts into an object.
func (m *MemoryAPI) CompleteMultipartUpload(
	ctx context.Context,
	params *s3.CompleteMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.CompleteMultipartUploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := aws.ToString(params.UploadId)
	up, ok := m.uploads[id]
	if !ok {
		return nil, &awstypes.NoSuchUpload{Message: aws.String("unknown upload id")}
	}

	var body bytes.Buffer
	var prev int32
	for _, part := range params.MultipartUpload.Parts {
		number := aws.ToInt32(part.PartNumber)
		if number <= prev {
			return nil, fmt.Errorf("parts out of order: %d after %d", number, prev)
		}
		data, ok := up.parts[number]
		if !ok {
			return nil, fmt.Errorf("part %d was never uploaded", number)
		}
		body.Write(data)
		prev = number
	}

	stored := up.stored
	stored.Body = body.Bytes()
	stored.LastModified = time.Now()
	m.store(up.bucket, up.key, stored)

	m.parts[up.key] = len(params.MultipartUpload.Parts)
	m.complete = append(m.complete, up.key)
	delete(m.uploads, id)

	return &s3.CompleteMultipartUploadOutput{
		Bucket: params.Bucket,
		Key:    params.Key,
		ETag:   aws.String(etag(stored.Body)),
	}, nil
}

// AbortMultipartUpload discards a multipart upload and its parts.
func (m *MemoryAPI) AbortMultipartUpload(
	_ context.Context,
	params *s3.AbortMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.AbortMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := aws.ToString(params.UploadId)
	up, ok := m.uploads[id]
	if !ok {
		return nil, &awstypes.NoSuchUpload{Message: aws.String("unknown upload id")}
	}
	m.aborted = append(m.aborted, up.key)
	delete(m.uploads, id)

	return &s3.AbortMultipartUploadOutput{}, nil
}

func (m *MemoryAPI) store(bucket, key string, obj Stored) {
	if m.objects[bucket] == nil {
		m.objects[bucket] = make(map[string]Stored)
	}
	m.objects[bucket][key] = obj
}

func (m *MemoryAPI) sortedKeys(bucket string) []string {
	keys := make([]string, 0, len(m.objects[bucket]))
	for k := range m.objects[bucket] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func etag(data []byte) string {
	return fmt.Sprintf("%q", fmt.Sprintf("%x", md5.Sum(data)))
}
