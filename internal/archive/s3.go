// Package archive stores JSON snapshots of conversation records before retention cleanup deletes them.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatwoot-formbricks-sync/config"
	"chatwoot-formbricks-sync/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// objectStore is the part of the S3 client the archiver uses.
type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Snapshot is the archived form of a conversation.
type Snapshot struct {
	Conversation models.Conversation         `json:"conversation"`
	Messages     []models.ConversationMessage `json:"messages"`
	ArchivedAt   time.Time                   `json:"archived_at"`
}

// S3Archiver writes conversation snapshots to a bucket.
type S3Archiver struct {
	client objectStore
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver builds the archiver from the S3 settings. Static credentials are used when both keys
// are set, the endpoint allows S3-compatible stores.
func NewS3Archiver(cfg config.S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}

	awsCfg := aws.Config{Region: cfg.Region}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	endpoint := cfg.Endpoint
	// an endpoint carrying the bucket host prefix is a common misconfiguration
	if endpoint != "" && strings.Contains(endpoint, cfg.Bucket+".") {
		endpoint = strings.Replace(endpoint, cfg.Bucket+".", "", 1)
		log.Warn().Str("endpoint", cfg.Endpoint).Str("cleanedEndpoint", endpoint).Msg("Removed bucket name from S3 endpoint")
	}

	// dotted bucket names break virtual-host TLS certificates
	usePathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", endpoint).
		Bool("pathStyle", usePathStyle).
		Msg("S3 archive initialized")
	return newS3Archiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Archiver(client objectStore, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Key returns the object key of a snapshot: <prefix>/conversations/<id>/<unix>.json.
func (a *S3Archiver) Key(conversationID string, at time.Time) string {
	key := fmt.Sprintf("conversations/%s/%d.json", conversationID, at.Unix())
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

// ArchiveConversation uploads a snapshot of the conversation and its messages.
func (a *S3Archiver) ArchiveConversation(ctx context.Context, conv models.Conversation, msgs []models.ConversationMessage) (string, error) {
	at := a.now().UTC()
	if msgs == nil {
		msgs = []models.ConversationMessage{}
	}
	data, err := json.Marshal(Snapshot{Conversation: conv, Messages: msgs, ArchivedAt: at})
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot of conversation %s: %w", conv.ConversationID, err)
	}

	key := a.Key(conv.ConversationID, at)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		log.Error().
			Str("key", key).
			Str("bucket", a.bucket).
			Int("size", len(data)).
			Err(err).
			Msg("Failed to upload conversation snapshot to S3")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().Str("key", key).Str("bucket", a.bucket).Int("messages", len(msgs)).Msg("Conversation snapshot archived")
	return key, nil
}

// TestConnection lists at most one object of the bucket.
func (a *S3Archiver) TestConnection(ctx context.Context) error {
	_, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}
