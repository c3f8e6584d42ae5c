// Package list handles paginated listing of S3 objects.
package list

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
)

// maxPageSize is the largest page ListObjectsV2 returns.
const maxPageSize = 1000

// S3Interface defines the S3 operations we need.
type S3Interface interface {
	ListObjectsV2(
		ctx context.Context,
		input *s3.ListObjectsV2Input,
		opts ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)
}

// Lister handles listing of S3 objects.
type Lister struct {
	client S3Interface
}

// New creates a new Lister.
func New(client S3Interface) *Lister {
	return &Lister{
		client: client,
	}
}

// Config holds configuration for list operations.
type Config struct {
	Bucket     string
	Prefix     string
	Delimiter  string
	MaxKeys    int32
	StartAfter string
}

// All returns a lazy sequence over every object under prefix. Pages are
// fetched on demand. A page error is yielded once and ends the sequence.
// The sequence restarts from the first page each time it is ranged over.
func (l *Lister) All(ctx context.Context, bucket, prefix string) iter.Seq2[s3types.Object, error] {
	return func(yield func(s3types.Object, error) bool) {
		p := l.paginator(&Config{Bucket: bucket, Prefix: prefix})

		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				yield(s3types.Object{}, err)
				return
			}

			for _, obj := range page.Objects {
				if !yield(obj, nil) {
					return
				}
			}
		}
	}
}

func (l *Lister) paginator(config *Config) *Paginator {
	pageSize := config.MaxKeys
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return &Paginator{
		client:    l.client,
		config:    config,
		pageSize:  pageSize,
		firstPage: true,
	}
}

// Paginator walks ListObjectsV2 pages with continuation tokens.
type Paginator struct {
	client            S3Interface
	config            *Config
	pageSize          int32
	continuationToken *string
	hasMorePages      bool
	firstPage         bool
}

// HasMorePages returns true if there are more pages to fetch.
func (p *Paginator) HasMorePages() bool {
	return p.firstPage || p.hasMorePages
}

// NextPage fetches the next page of results.
func (p *Paginator) NextPage(ctx context.Context) (*s3types.ListResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.config.Bucket),
		MaxKeys: aws.Int32(p.pageSize),
	}

	if p.config.Prefix != "" {
		input.Prefix = aws.String(p.config.Prefix)
	}
	if p.config.Delimiter != "" {
		input.Delimiter = aws.String(p.config.Delimiter)
	}

	if !p.firstPage && p.continuationToken != nil {
		input.ContinuationToken = p.continuationToken
	} else if p.config.StartAfter != "" {
		input.StartAfter = aws.String(p.config.StartAfter)
	}

	output, err := p.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("list objects page: %w", err)
	}

	p.firstPage = false
	p.hasMorePages = aws.ToBool(output.IsTruncated) && output.NextContinuationToken != nil
	p.continuationToken = output.NextContinuationToken

	return convertOutput(output), nil
}

// convertOutput converts S3 output to our result type.
func convertOutput(output *s3.ListObjectsV2Output) *s3types.ListResult {
	result := &s3types.ListResult{
		Objects:               make([]s3types.Object, 0, len(output.Contents)),
		CommonPrefixes:        make([]string, 0, len(output.CommonPrefixes)),
		IsTruncated:           aws.ToBool(output.IsTruncated),
		NextContinuationToken: aws.ToString(output.NextContinuationToken),
	}

	for _, obj := range output.Contents {
		result.Objects = append(result.Objects, s3types.Object{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         aws.ToString(obj.ETag),
			StorageClass: string(obj.StorageClass),
		})
	}

	for _, prefix := range output.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, aws.ToString(prefix.Prefix))
	}

	return result
}
