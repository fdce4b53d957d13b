package services

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"wardrobeapi/combinations"
)

// ObjectStorage is the R2 surface used by the API and the worker.
type ObjectStorage interface {
	PresignUpload(ctx context.Context, objectKey string) (string, error)
	PresignRead(ctx context.Context, objectKey string) (string, error)
	PutObject(ctx context.Context, objectKey string, data []byte, mimeType string) error
	DeleteObject(ctx context.Context, objectKey string) error
}

type AWSService struct {
	BucketName      string
	S3Client        *s3.Client
	S3PresignClient *s3.PresignClient
}

// NewR2Service builds an S3 client pointed at the Cloudflare R2 account from the environment.
func NewR2Service(ctx context.Context) (*AWSService, error) {
	accountId := GetEnv("R2_ACCOUNT_ID", "")
	accessKeyId := GetEnv("R2_ACCESS_KEY_ID", "")
	accessKeySecret := GetEnv("R2_ACCESS_KEY_SECRET", "")

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountId),
		}, nil
	})
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyId, accessKeySecret, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &AWSService{
		BucketName:      GetEnv("R2_BUCKET_NAME", "wardrobe"),
		S3Client:        client,
		S3PresignClient: s3.NewPresignClient(client),
	}, nil
}

func (awsService *AWSService) PresignUpload(ctx context.Context, objectKey string) (string, error) {
	request, err := awsService.S3PresignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(awsService.BucketName),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(presignedURLExpiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign upload: %w", err)
	}
	return request.URL, nil
}

func (awsService *AWSService) PresignRead(ctx context.Context, objectKey string) (string, error) {
	request, err := awsService.S3PresignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(awsService.BucketName),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(presignedURLExpiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign read: %w", err)
	}
	return request.URL, nil
}

func (awsService *AWSService) PutObject(ctx context.Context, objectKey string, data []byte, mimeType string) error {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	_, err := awsService.S3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(awsService.BucketName),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectKey, err)
	}
	return nil
}

func (awsService *AWSService) DeleteObject(ctx context.Context, objectKey string) error {
	_, err := awsService.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(awsService.BucketName),
		Key:    aws.String(objectKey),
	})
	return err
}

// NewObjectKey returns a unique key under prefix that keeps the file extension.
func NewObjectKey(prefix string, fileName string) string {
	return path.Join(prefix, time.Now().UTC().Format("20060102"), uuid.NewString()+path.Ext(fileName))
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// UploadArtifact stores a synthesized image under prefix and returns it with
// its key set.
func UploadArtifact(ctx context.Context, storage ObjectStorage, prefix string, image combinations.Image) (combinations.Image, error) {
	if len(image.Data) == 0 {
		return image, fmt.Errorf("artifact has no data")
	}
	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(image.Data)
	}
	key := path.Join(prefix, uuid.NewString()+extensionFor(mimeType))
	if err := storage.PutObject(ctx, key, image.Data, mimeType); err != nil {
		return image, err
	}
	image.Key = key
	image.MIMEType = mimeType
	return image, nil
}
