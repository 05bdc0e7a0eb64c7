package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pdf-pipeline-server/config"
	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/util"
)

// S3Storage — backend поверх S3-совместимого хранилища (AWS S3, R2,
// локальный MinIO). Клиент без состояния, безопасен для
// конкурентного использования.
type S3Storage struct {
	client    *s3.Client
	psClient  *s3.PresignClient
	bucket    string
	chunkSize int64
}

func NewS3Storage(ctx context.Context, cfg *config.StorageConfig) (*S3Storage, error) {
	var client *s3.Client

	if cfg.Endpoint != "" {
		// R2 или локальный MinIO: статические креды + endpoint override
		client = s3.New(s3.Options{
			Region: cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			),
			BaseEndpoint: aws.String(cfg.Endpoint),
			UsePathStyle: true,
		})
	} else {
		awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, util.LogError("[S3Storage] ошибка загрузки AWS config", err)
		}
		client = s3.NewFromConfig(awsCfg)
	}

	chunkSize := cfg.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &S3Storage{
		client:    client,
		psClient:  s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		chunkSize: chunkSize,
	}, nil
}

// Upload : PutObject атомарен на стороне S3 — частичная загрузка не видна.
// Тело передаётся потоком, без буферизации объекта в памяти.
// Транзиентные ошибки ретраятся один раз внутри шлюза: поток
// перематывается через Seek, неперематываемый reader не ретраится.
func (s *S3Storage) Upload(ctx context.Context, path string, reader io.Reader, contentType string, metadata map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        reader,
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil && isTransient(err) {
		if seeker, ok := reader.(io.Seeker); ok {
			if _, seekErr := seeker.Seek(0, io.SeekStart); seekErr == nil {
				_, err = s.client.PutObject(ctx, input)
			}
		}
	}
	if err != nil {
		return classify("не удалось загрузить объект", err)
	}
	return nil
}

// UploadMultipart : chunked-загрузка; при любой ошибке staging
// прерывается через AbortMultipartUpload до возврата ошибки.
func (s *S3Storage) UploadMultipart(ctx context.Context, path string, reader io.Reader, chunkSize int64) error {
	if chunkSize <= 0 {
		chunkSize = s.chunkSize
	}

	create, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return classify("не удалось начать multipart-загрузку", err)
	}
	uploadID := create.UploadId

	abort := func() {
		_, abortErr := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(path),
			UploadId: uploadID,
		})
		if abortErr != nil {
			util.LogError("[S3Storage] не удалось прервать multipart-загрузку", abortErr)
		}
	}

	var completed []types.CompletedPart
	buf := make([]byte, chunkSize)
	partNumber := int32(1)

	for {
		n, readErr := io.ReadFull(reader, buf)
		if n > 0 {
			part, upErr := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(path),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf[:n]),
			})
			if upErr != nil {
				abort()
				return classify(fmt.Sprintf("ошибка загрузки части %d", partNumber), upErr)
			}
			completed = append(completed, types.CompletedPart{
				ETag:       part.ETag,
				PartNumber: aws.Int32(partNumber),
			})
			partNumber++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			abort()
			return apperr.NewStorage(apperr.CodeAborted, "ошибка чтения входного потока", readErr)
		}
	}

	if len(completed) == 0 {
		abort()
		return apperr.NewStorage(apperr.CodeAborted, "пустой входной поток", nil)
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(path),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		abort()
		return classify("не удалось завершить multipart-загрузку", err)
	}
	return nil
}

func (s *S3Storage) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, apperr.NewStorage(apperr.CodeNotFound, "объект не найден: "+path, err)
		}
		return nil, classify("не удалось прочитать объект", err)
	}
	return out.Body, nil
}

func (s *S3Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, classify("ошибка проверки объекта", err)
	}
	return true, nil
}

func (s *S3Storage) Size(ctx context.Context, path string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, apperr.NewStorage(apperr.CodeNotFound, "объект не найден: "+path, err)
		}
		return 0, classify("ошибка получения размера объекта", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3Storage) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return classify("не удалось удалить объект", err)
	}
	return nil
}

// DeletePrefix : листинг страницами по 1000 + пакетное удаление.
// Счётчик best-effort — S3 может отдавать список с задержкой.
func (s *S3Storage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	var continuation *string

	for {
		list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return deleted, classify("ошибка листинга по префиксу", err)
		}
		if len(list.Contents) == 0 {
			break
		}

		objects := make([]types.ObjectIdentifier, 0, len(list.Contents))
		for _, obj := range list.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, classify("ошибка пакетного удаления", err)
		}
		deleted += len(objects) - len(out.Errors)

		if !aws.ToBool(list.IsTruncated) {
			break
		}
		continuation = list.NextContinuationToken
	}

	return deleted, nil
}

func (s *S3Storage) Copy(ctx context.Context, src, dst string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + src),
		Key:        aws.String(dst),
	})
	if err != nil {
		return classify("не удалось скопировать объект", err)
	}
	return nil
}

// SignedURL : pre-signed URL с зашитым сроком, без общих кредов в URL.
func (s *S3Storage) SignedURL(ctx context.Context, path string, op ports.SignedOp, ttl time.Duration) (string, error) {
	switch op {
	case ports.SignedGet:
		req, err := s.psClient.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
		}, func(opts *s3.PresignOptions) {
			opts.Expires = ttl
		})
		if err != nil {
			return "", util.LogError("[S3Storage] не удалось сгенерировать presigned GET URL", err)
		}
		return req.URL, nil
	case ports.SignedPut:
		req, err := s.psClient.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
		}, func(opts *s3.PresignOptions) {
			opts.Expires = ttl
		})
		if err != nil {
			return "", util.LogError("[S3Storage] не удалось сгенерировать presigned PUT URL", err)
		}
		return req.URL, nil
	}
	return "", fmt.Errorf("[S3Storage] неизвестная операция: %s", op)
}

func (s *S3Storage) PresignedPost(ctx context.Context, path, contentType string, ttl time.Duration, maxSize int64) (*ports.PresignedPost, error) {
	req, err := s.psClient.PresignPostObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignPostOptions) {
		opts.Expires = ttl
		opts.Conditions = []interface{}{
			[]interface{}{"content-length-range", 1, maxSize},
		}
	})
	if err != nil {
		return nil, util.LogError("[S3Storage] не удалось сгенерировать presigned POST", err)
	}
	return &ports.PresignedPost{
		URL:    req.URL,
		Fields: req.Values,
	}, nil
}

// classify переводит ошибку SDK в StorageError со стабильным кодом.
func classify(message string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return apperr.NewStorage(apperr.CodeNotFound, message, err)
	}
	if isAuthError(err) {
		return apperr.NewStorage(apperr.CodeAuth, message, err)
	}
	if isTransient(err) {
		return apperr.NewStorage(apperr.CodeTransient, message, err)
	}
	return apperr.NewStorage(apperr.CodeAborted, message, err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return true
	}
	return false
}

func isAuthError(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return true
		}
	}
	return false
}
