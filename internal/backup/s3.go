// Package backup escrows newly generated signing keys to S3-compatible
// object storage. The private PEM never leaves the process unencrypted:
// payloads are sealed with the at-rest encryptor before upload, so the
// bucket operator cannot read key material.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/crypto"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

const escrowPrefix = "escrow/"

// escrowRecord is the sealed payload stored per key.
type escrowRecord struct {
	KID        string    `json:"kid"`
	Algorithm  string    `json:"algorithm"`
	PrivatePEM string    `json:"private_pem"`
	PublicPEM  string    `json:"public_pem"`
	CreatedAt  time.Time `json:"created_at"`
	EscrowedAt time.Time `json:"escrowed_at"`
}

// KeyInfo describes one escrowed object for ops tooling.
type KeyInfo struct {
	KID          string    `json:"kid"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Client stores and retrieves escrowed signing keys. It satisfies
// rotation.Escrow.
type Client struct {
	client    *s3.Client
	bucket    string
	encryptor *crypto.Encryptor
	logger    logging.Logger
}

// NewClient builds an escrow client. Works against AWS S3 or any
// S3-compatible endpoint (MinIO, R2) via backup.endpoint.
func NewClient(ctx context.Context, cfg config.BackupConfig, encryptor *crypto.Encryptor, logger logging.Logger) (*Client, error) {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, apperrors.ErrValidation.WithMessage(
			"backup requires bucket, access-key-id and secret-access-key")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading object storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Compatible stores generally need path-style addressing.
			o.UsePathStyle = true
		}
	})

	logger = logger.WithField("component", "backup")
	logger.Info(ctx, "Key escrow storage initialized",
		logging.String("bucket", cfg.Bucket),
		logging.String("endpoint", cfg.Endpoint))

	return &Client{
		client:    client,
		bucket:    cfg.Bucket,
		encryptor: encryptor,
		logger:    logger,
	}, nil
}

// StoreKey seals the key record and uploads it under escrow/<kid>.
func (c *Client) StoreKey(ctx context.Context, key *types.SigningKey) error {
	record := escrowRecord{
		KID:        key.KID,
		Algorithm:  key.Algorithm,
		PrivatePEM: key.PrivatePEM,
		PublicPEM:  key.PublicPEM,
		CreatedAt:  key.CreatedAt,
		EscrowedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding escrow record: %w", err)
	}

	sealed, err := c.encryptor.Encrypt(data)
	if err != nil {
		return fmt.Errorf("sealing escrow record: %w", err)
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(objectKey(key.KID)),
		Body:        strings.NewReader(sealed),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("uploading escrow record: %w", err)
	}

	c.logger.Info(ctx, "Escrowed signing key",
		logging.String("kid", key.KID),
		logging.String("bucket", c.bucket))
	return nil
}

// FetchKey downloads and unseals one escrowed key, for disaster
// recovery.
func (c *Client) FetchKey(ctx context.Context, kid string) (*types.SigningKey, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(kid)),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading escrow record: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading escrow record: %w", err)
	}

	data, err := c.encryptor.Decrypt(string(sealed))
	if err != nil {
		return nil, fmt.Errorf("unsealing escrow record: %w", err)
	}

	var record escrowRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding escrow record: %w", err)
	}

	return &types.SigningKey{
		KID:        record.KID,
		Algorithm:  record.Algorithm,
		PrivatePEM: record.PrivatePEM,
		PublicPEM:  record.PublicPEM,
		Status:     types.KeyStatusPending,
		CreatedAt:  record.CreatedAt,
	}, nil
}

// ListKeys enumerates escrowed keys.
func (c *Client) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(escrowPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("listing escrow records: %w", err)
	}

	keys := make([]KeyInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, KeyInfo{
			KID:          strings.TrimPrefix(aws.ToString(obj.Key), escrowPrefix),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return keys, nil
}

// DeleteKey removes an escrowed key, used when a key is destroyed.
func (c *Client) DeleteKey(ctx context.Context, kid string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(kid)),
	})
	if err != nil {
		return fmt.Errorf("deleting escrow record: %w", err)
	}
	c.logger.Info(ctx, "Deleted escrowed signing key", logging.String("kid", kid))
	return nil
}

func objectKey(kid string) string {
	return escrowPrefix + kid
}
