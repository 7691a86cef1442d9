package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	gonanoid "github.com/matoous/go-nanoid/v2"

	cfg "github.com/crosspost-io/crosspost/configs"
	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/repository"
)

type MediaService interface {
	Upload(ctx context.Context, userID int64, fileName string, data []byte) (*models.MediaAsset, error)
	Get(ctx context.Context, userID, id int64) (*models.MediaAsset, error)
	Remove(ctx context.Context, userID, id int64) error
}

type mediaService struct {
	config cfg.Config
	ma     repository.MediaAssetRepository

	client *s3.Client
}

func NewMediaService(config cfg.Config, ma repository.MediaAssetRepository) MediaService {
	return &mediaService{config: config, ma: ma}
}

func (s *mediaService) r2Client(ctx context.Context) (*s3.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.config.R2.AccessKey, s.config.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.config.R2.AccountID))
	})
	return s.client, nil
}

// Upload sniffs the file's real type, stores the bytes in R2 under a random
// key and records the asset. Only images and videos are accepted since
// nothing else can be attached to a post.
func (s *mediaService) Upload(ctx context.Context, userID int64, fileName string, data []byte) (*models.MediaAsset, error) {
	if len(data) == 0 {
		return nil, errs.Validation("file is empty")
	}

	kind, err := filetype.Match(data)
	if err != nil {
		return nil, err
	}
	if !filetype.IsImage(data) && !filetype.IsVideo(data) {
		return nil, errs.Validation("unsupported file type %s", kind.MIME.Value)
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	key := id + "." + kind.Extension

	client, err := s.r2Client(ctx)
	if err != nil {
		return nil, errs.Storage(err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(kind.MIME.Value),
	}
	if _, err := client.PutObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return nil, errs.Storage(err)
	}

	asset := &models.MediaAsset{
		UserID:   userID,
		FileName: fileName,
		FileType: kind.MIME.Value,
		FileSize: int64(len(data)),
		FileURL:  strings.TrimRight(s.config.R2.PublicBase, "/") + "/" + key,
	}

	assetID, err := s.ma.Create(ctx, nil, asset)
	if err != nil {
		return nil, err
	}
	asset.ID = assetID

	return asset, nil
}

func (s *mediaService) Get(ctx context.Context, userID, id int64) (*models.MediaAsset, error) {
	asset, err := s.ma.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset == nil || asset.UserID != userID {
		return nil, errs.NotFound("media asset")
	}
	return asset, nil
}

func (s *mediaService) Remove(ctx context.Context, userID, id int64) error {
	asset, err := s.ma.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if asset == nil || asset.UserID != userID {
		return errs.NotFound("media asset")
	}
	return s.ma.Remove(ctx, id)
}
