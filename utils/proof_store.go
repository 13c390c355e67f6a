package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var proofClient *s3.Client
var proofBucket string
var proofBaseURL string

// InitProofStore wires the R2 bucket proof photos are uploaded to. When the
// R2 env vars are absent the store stays disabled and proofs fall back to
// local disk.
func InitProofStore() error {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	proofBucket = os.Getenv("R2_PROOF_BUCKET")

	if accountID == "" || accessKeyID == "" || accessKeySecret == "" || proofBucket == "" {
		return nil // disabled — local fallback
	}

	proofBaseURL = os.Getenv("PROOF_CDN_BASE_URL")
	if proofBaseURL == "" {
		proofBaseURL = fmt.Sprintf("https://%s.r2.cloudflarestorage.com/%s", accountID, proofBucket)
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to load R2 config: %w", err)
	}

	proofClient = s3.NewFromConfig(cfg)
	return nil
}

// ProofStoreEnabled reports whether uploads go to R2 or local disk.
func ProofStoreEnabled() bool {
	return proofClient != nil
}

// UploadProof pushes a proof photo to R2 and returns its URL — the opaque
// proof_ref stored on the progress record.
func UploadProof(fileHeader *multipart.FileHeader, key string) (string, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open proof file: %w", err)
	}
	defer file.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, file); err != nil {
		return "", fmt.Errorf("failed to read proof file: %w", err)
	}

	_, err = proofClient.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(proofBucket),
		Key:         aws.String(key),
		Body:        buf,
		ContentType: aws.String(fileHeader.Header.Get("Content-Type")),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload proof to R2: %w", err)
	}

	return fmt.Sprintf("%s/%s", proofBaseURL, key), nil
}
