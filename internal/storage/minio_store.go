// internal/storage/minio_store.go
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sua-org/hik-bridge/internal/config"
)

// MinioStore guarda os snapshots que chegam junto com os alertas (partes
// image/* do alert stream) e devolve uma URL de acesso para o tópico de
// atributos.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
	useSSL  bool
}

// NewMinioStore conecta no endpoint S3 da seção [snapshots] e garante que
// o bucket existe. Só é chamado com snapshots.enabled=true.
func NewMinioStore(cfg config.Snapshots) (*MinioStore, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("snapshots: access_key / secret_key não configurados")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("erro criando cliente MinIO: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Cria bucket se não existir
	err = cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := cli.BucketExists(ctx, cfg.Bucket)
		if errBucketExists != nil || !exists {
			return nil, fmt.Errorf("erro criando/verificando bucket %s: %w", cfg.Bucket, err)
		}
	}

	var u *url.URL
	if cfg.PublicBaseURL != "" {
		u, err = url.Parse(cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("snapshots: public_base_url inválida: %w", err)
		}
	}

	log.Printf("[minio] conectado ao endpoint %s, bucket=%s", cfg.Endpoint, cfg.Bucket)

	return &MinioStore{
		client:  cli,
		bucket:  cfg.Bucket,
		baseURL: u,
		useSSL:  cfg.UseSSL,
	}, nil
}

// Store implementa supervisor.SnapshotSink. A chave carrega a tupla e o
// horário, então snapshots nunca se sobrescrevem.
func (s *MinioStore) Store(ctx context.Context, cameraID string, channelID int, eventType, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%d/%s/%s/%s%s",
		cameraID,
		channelID,
		strings.ToLower(eventType),
		now.Format("2006-01-02"),
		now.Format("150405.000000000"),
		extensionFor(contentType),
	)

	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return "", fmt.Errorf("erro ao enviar snapshot pro MinIO: %w", err)
	}

	return s.urlFor(key), nil
}

func (s *MinioStore) urlFor(key string) string {
	// Se for configurada uma base pública, usamos ela
	if s.baseURL != nil {
		u := *s.baseURL
		if u.Path == "" || u.Path == "/" {
			u.Path = "/" + s.bucket + "/" + key
		} else {
			u.Path = fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(u.Path, "/"), s.bucket, key)
		}
		return u.String()
	}

	// Fallback: URL bruta do endpoint S3
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, key)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	default:
		return ".jpg"
	}
}
