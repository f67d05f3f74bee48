package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	bodies  []string
	putErr  error
	objects []string
	deletes [][]string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, string(b))
	return &s3.PutObjectOutput{}, nil
}

// ListObjectsV2 pages two keys at a time.
func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	start := 0
	if in.ContinuationToken != nil {
		fmt.Sscanf(*in.ContinuationToken, "%d", &start)
	}
	end := min(start+2, len(f.objects))
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.objects[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if end < len(f.objects) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(fmt.Sprint(end))
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	var keys []string
	for _, o := range in.Delete.Objects {
		keys = append(keys, aws.ToString(o.Key))
	}
	f.deletes = append(f.deletes, keys)
	return &s3.DeleteObjectsOutput{}, nil
}

func TestS3Uploader_Upload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d_segment_000.ts")
	if err := os.WriteFile(path, []byte("mpegts"), 0o644); err != nil {
		t.Fatal(err)
	}
	client := &fakeS3{}
	u := NewS3UploaderWithClient(client, "bucket")

	if err := u.Upload(context.Background(), "hls/d_segment_000.ts", path, contentTypeSegment); err != nil {
		t.Fatal(err)
	}
	if len(client.puts) != 1 {
		t.Fatalf("expected one put, got %d", len(client.puts))
	}
	in := client.puts[0]
	if aws.ToString(in.Bucket) != "bucket" || aws.ToString(in.Key) != "hls/d_segment_000.ts" {
		t.Errorf("unexpected target %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if aws.ToString(in.ContentType) != "video/mp2t" || aws.ToInt64(in.ContentLength) != 6 {
		t.Errorf("unexpected headers type=%s len=%d", aws.ToString(in.ContentType), aws.ToInt64(in.ContentLength))
	}
	if client.bodies[0] != "mpegts" {
		t.Errorf("unexpected body %q", client.bodies[0])
	}
}

func TestS3Uploader_Upload_missing_file_not_retryable(t *testing.T) {
	u := NewS3UploaderWithClient(&fakeS3{}, "bucket")
	err := u.Upload(context.Background(), "k", filepath.Join(t.TempDir(), "gone.ts"), contentTypeSegment)
	if err == nil || retryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestS3Uploader_Purge(t *testing.T) {
	client := &fakeS3{objects: []string{"hls/a_1.ts", "hls/a_2.ts", "hls/a_3.ts", "hls/a_playlist.m3u8", "hls/a_4.ts"}}
	u := NewS3UploaderWithClient(client, "bucket")

	n, err := u.Purge(context.Background(), "hls/a_")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("expected 5 deleted, got %d", n)
	}
	total := 0
	for _, batch := range client.deletes {
		total += len(batch)
	}
	if total != 5 {
		t.Errorf("expected 5 keys in delete requests, got %d", total)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", errors.New("connection reset by peer"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"vanished file", fmt.Errorf("open: %w", os.ErrNotExist), false},
		{"access denied", fmt.Errorf("put: %w", apiError{code: "AccessDenied"}), false},
		{"no such bucket", apiError{code: "NoSuchBucket"}, false},
		{"slow down", apiError{code: "SlowDown"}, true},
		{"internal", apiError{code: "InternalError"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
