// Package s3 is a thin, testable wrapper around the AWS SDK v2 S3 client.
//
// It covers what a batch ingest job needs from an object store:
//   - streamed uploads of unknown length, switching to bounded-concurrency
//     multipart uploads above a threshold and aborting them on failure
//   - single-request puts for small files
//   - lazy, paginated listing as an iter.Seq2
//   - streamed downloads into a pluggable filesystem
//
// Example usage:
//
//	client, err := s3.New(s3.WithRegion("eu-west-1"))
//	if err != nil {
//	    return err
//	}
//
//	result, err := client.Upload(ctx, "my-bucket", "report.zip", stream)
//	if err != nil {
//	    return err
//	}
package s3
