// Package files hands out presigned S3 URLs for the stored files of imported
// attachments. Objects are keyed by library and storage hash, so identical
// files uploaded twice to one library share an object.
package files

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

type Settings struct {
	Region       string
	RootUser     string
	RootPassword string
	BaseEndpoint string
	Bucket       string
	TTL          time.Duration
}

type Presigner struct {
	settings Settings
}

func NewPresigner(s Settings) *Presigner {
	if s.TTL <= 0 {
		s.TTL = 15 * time.Minute
	}
	return &Presigner{settings: s}
}

// StorageKey is the object key of a file with storageHash in libraryID.
func StorageKey(libraryID int64, storageHash string) string {
	return fmt.Sprintf("libraries/%d/%s", libraryID, storageHash)
}

func (p *Presigner) client(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(p.settings.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			p.settings.RootUser,
			p.settings.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(p.settings.BaseEndpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

// UploadURL returns a presigned PUT for the file of an attachment.
func (p *Presigner) UploadURL(ctx context.Context, libraryID int64, storageHash string) (string, error) {
	pc, err := p.client(ctx)
	if err != nil {
		return "", err
	}

	bucket := p.settings.Bucket
	key := StorageKey(libraryID, storageHash)

	req, err := presignPutObject(pc, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(p.settings.TTL))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

// DownloadURL returns a presigned GET for the file of an attachment.
func (p *Presigner) DownloadURL(ctx context.Context, libraryID int64, storageHash string) (string, error) {
	pc, err := p.client(ctx)
	if err != nil {
		return "", err
	}

	bucket := p.settings.Bucket
	key := StorageKey(libraryID, storageHash)

	req, err := presignGetObject(pc, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(p.settings.TTL))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}
