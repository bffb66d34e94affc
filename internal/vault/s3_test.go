package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data []byte
	meta map[string]string
}

// fakeS3 is an in-memory bucket. Only single-part uploads are supported.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]*fakeObject)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[aws.ToString(in.Key)] = &fakeObject{data: data, meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.meta, ContentLength: aws.Int64(int64(len(obj.data)))}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

var errMultipart = errors.New("multipart upload not supported by fake")

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errMultipart
}

func TestS3Vault(t *testing.T) {
	exerciseVault(t, NewS3VaultWithClient("test-s3", "bucket", "svpatch", newFakeS3()))
}

func TestS3Vault_Keys(t *testing.T) {
	client := newFakeS3()
	v := NewS3VaultWithClient("test-s3", "bucket", "/archive/", client)

	sum := checksumOf("data")
	for i := 0; i < 2; i++ {
		if err := v.PutContent(sum, bytes.NewReader([]byte("data")), 4); err != nil {
			t.Fatal(err)
		}
	}
	if client.puts != 1 {
		t.Errorf("puts = %d, want existing content to be skipped", client.puts)
	}
	if _, ok := client.objects["archive/content/"+sum]; !ok {
		t.Errorf("content key missing; have %v", client.objects)
	}

	if err := v.PutMetadata("proj", "runs/r1/report.json", bytes.NewReader([]byte("{}")), 2, 9); err != nil {
		t.Fatal(err)
	}
	obj, ok := client.objects["archive/projects/proj/runs/r1/report.json"]
	if !ok {
		t.Fatalf("metadata key missing; have %v", client.objects)
	}
	if obj.meta[s3VersionKey] != "9" {
		t.Errorf("version metadata = %q, want 9", obj.meta[s3VersionKey])
	}
}
