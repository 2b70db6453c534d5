package files

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func newPresigner() *Presigner {
	return NewPresigner(Settings{
		Region:       "us-east-1",
		RootUser:     "minioadmin",
		RootPassword: "minioadmin",
		BaseEndpoint: "http://127.0.0.1:9000",
		Bucket:       "attachments",
		TTL:          time.Minute,
	})
}

func stubClients(t *testing.T) *string {
	t.Helper()
	origLoad, origNewS3, origNewPre := loadDefaultAWSConfig, newS3ClientFromConfig, newS3PresignClient
	origPut, origGet := presignPutObject, presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		newS3PresignClient = origNewPre
		presignPutObject = origPut
		presignGetObject = origGet
	})

	var endpoint string
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		if lo.Region != "us-east-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		if opts.BaseEndpoint == nil {
			t.Fatalf("BaseEndpoint not set")
		}
		endpoint = *opts.BaseEndpoint
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient { return &s3.PresignClient{} }
	return &endpoint
}

func TestStorageKey(t *testing.T) {
	if got := StorageKey(5, "abc"); got != "libraries/5/abc" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestUploadURL(t *testing.T) {
	endpoint := stubClients(t)

	var gotKey, gotBucket string
	var gotExpires time.Duration
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		gotKey, gotBucket = *in.Key, *in.Bucket
		var po s3.PresignOptions
		for _, fn := range optFns {
			fn(&po)
		}
		gotExpires = po.Expires
		return &v4.PresignedHTTPRequest{URL: "https://put"}, nil
	}

	url, err := newPresigner().UploadURL(context.Background(), 5, "d41d8cd98f00b204e9800998ecf8427e")
	if err != nil {
		t.Fatalf("UploadURL err: %v", err)
	}
	if url != "https://put" {
		t.Fatalf("url mismatch: %q", url)
	}
	if gotKey != "libraries/5/d41d8cd98f00b204e9800998ecf8427e" || gotBucket != "attachments" {
		t.Fatalf("bad object: %s/%s", gotBucket, gotKey)
	}
	if gotExpires != time.Minute {
		t.Fatalf("expires mismatch: %v", gotExpires)
	}
	if *endpoint != "http://127.0.0.1:9000" {
		t.Fatalf("BaseEndpoint mismatch: %q", *endpoint)
	}
}

func TestDownloadURL_Errors(t *testing.T) {
	stubClients(t)

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("presign-get-fail")
	}
	if _, err := newPresigner().DownloadURL(context.Background(), 5, "h"); err == nil || err.Error() != "presign-get-fail" {
		t.Fatalf("expected presign-get-fail, got %v", err)
	}

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}
	if _, err := newPresigner().DownloadURL(context.Background(), 5, "h"); err == nil || err.Error() != "load-fail" {
		t.Fatalf("expected load-fail, got %v", err)
	}
}

func TestNewPresigner_DefaultTTL(t *testing.T) {
	p := NewPresigner(Settings{})
	if p.settings.TTL != 15*time.Minute {
		t.Fatalf("default ttl: %v", p.settings.TTL)
	}
}
