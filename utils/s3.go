package utils

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3PictureStorage keeps uploaded pictures in a bucket and hands out
// presigned GET URLs for them.
type S3PictureStorage struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	expires       time.Duration
}

// NewS3PictureStorage initializes the S3 client
func NewS3PictureStorage(ctx context.Context, region, bucket string) (*S3PictureStorage, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config, %v", err)
	}

	client := s3.NewFromConfig(cfg)
	log.Println("S3 Client Initialized")
	return &S3PictureStorage{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        bucket,
		expires:       time.Hour,
	}, nil
}

// SavePicture uploads a file to S3 and returns the Object Key
func (s *S3PictureStorage) SavePicture(ctx context.Context, file io.Reader, objectKey string, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return objectKey, nil
}

// PictureURL generates a presigned URL for an object
func (s *S3PictureStorage) PictureURL(ctx context.Context, objectKey string) (string, error) {
	request, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(s.expires))
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return request.URL, nil
}
