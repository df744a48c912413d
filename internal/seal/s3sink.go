package seal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Sink uploads an exported range's envelopes as a single JSON array object
// to S3 under <prefix>/<project>/<environment>/<start>_<end>.json, SSE-S3
// encrypted. Keying by stream (project, environment) keeps distinct streams'
// exports from ever colliding under the same prefix.
type S3Sink struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Sink constructs an S3Sink. Credentials/region are resolved the usual
// SDK way (environment, shared config, instance profile).
func NewS3Sink(ctx context.Context, bucket, prefix string) (*S3Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("seal: s3 bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("seal: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Sink{bucket: bucket, prefix: prefix, client: client, uploader: manager.NewUploader(client)}, nil
}

// WriteRange uploads envelopes as one object keyed by the range. Re-uploading
// the same range simply overwrites the same key with identical bytes, which
// is idempotent by construction since the marshaled form is deterministic.
func (s *S3Sink) WriteRange(ctx context.Context, projectID, environmentID string, start, end time.Time, envelopes []ExportEnvelope) error {
	b, err := json.Marshal(envelopes)
	if err != nil {
		return fmt.Errorf("seal: marshal export range: %w", err)
	}
	key := path.Join(s.prefix, projectID, environmentID, rangeFilename(start, end))
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(b),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("seal: s3 upload %s: %w", key, err)
	}
	return nil
}
