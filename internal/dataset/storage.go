package dataset

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies batch artifacts to an S3 bucket under a run prefix.
type Uploader struct {
	client s3PutAPI
	bucket string
	prefix string
}

// NewUploader builds an Uploader from the default AWS credential chain.
func NewUploader(ctx context.Context, region, bucket, prefix string) (*Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)
	return newUploader(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func newUploader(client s3PutAPI, bucket, prefix string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Upload puts the file at localPath under <prefix>/<runID>/<basename> and
// returns the s3:// URI.
func (u *Uploader) Upload(ctx context.Context, runID, localPath string) (string, error) {
	return u.UploadAs(ctx, runID, localPath, filepath.Base(localPath))
}

// UploadAs is Upload with an explicit slash-separated name under the run
// prefix.
func (u *Uploader) UploadAs(ctx context.Context, runID, localPath, name string) (string, error) {
	key := path.Join(u.prefix, runID, name)

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(contentType(localPath)),
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to s3: %w", key, err)
	}
	return "s3://" + u.bucket + "/" + key, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".mp3":
		return "audio/mpeg"
	}
	return "application/octet-stream"
}
