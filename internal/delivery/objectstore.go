package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/northcloud/jobforge/internal/domain"
)

// ObjectStoreSender writes an Execution's envelope to an S3-compatible
// bucket, per §4.3.1 #4, grounded on crawler/internal/archive.Archiver's
// MinIO client usage but keyed by the rendered key_template rather than a
// fixed live/<source>/<date> layout.
type ObjectStoreSender struct {
	mu      sync.Mutex
	clients map[string]*miniogo.Client
}

func NewObjectStoreSender() *ObjectStoreSender {
	return &ObjectStoreSender{clients: make(map[string]*miniogo.Client)}
}

func (s *ObjectStoreSender) Send(ctx context.Context, env Envelope, dest domain.Destination, tmplCtx Context) Attempt {
	cfg := dest.ObjectStore
	if cfg == nil {
		return failAttempt(domain.KindConfigError, "object_store destination missing its config", false)
	}

	client, err := s.client(cfg)
	if err != nil {
		return failAttempt(domain.KindConfigError, err.Error(), false)
	}

	key, err := Render(cfg.KeyTemplate, tmplCtx)
	if err != nil {
		return failAttempt(domain.KindConfigError, err.Error(), false)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return failAttempt(domain.KindInternalError, "marshal envelope: "+err.Error(), false)
	}

	opts := miniogo.PutObjectOptions{ContentType: "application/json"}
	if cfg.StorageClass != "" {
		opts.StorageClass = cfg.StorageClass
	}

	if _, err := client.PutObject(ctx, cfg.Bucket, key, bytes.NewReader(body), int64(len(body)), opts); err != nil {
		return failAttempt(domain.KindTransportError, "put object: "+err.Error(), true)
	}
	return Attempt{Success: true, SizeBytes: int64(len(body))}
}

func (s *ObjectStoreSender) client(cfg *domain.ObjectStoreConfig) (*miniogo.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cacheKey := cfg.Endpoint + "|" + cfg.AccessKeyID
	if c, ok := s.clients[cacheKey]; ok {
		return c, nil
	}
	c, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	s.clients[cacheKey] = c
	return c, nil
}
