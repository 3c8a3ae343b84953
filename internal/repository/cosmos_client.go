package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"company-assistant/internal/domain"
)

// ErrHistoryConflict is returned when another writer changed a session's
// history between read and write.
var ErrHistoryConflict = errors.New("repository: session history changed concurrently")

const releaseAttempts = 3

// cosmosAPI is the subset of *azcosmos.ContainerClient used by CosmosStore.
type cosmosAPI interface {
	ReadItem(ctx context.Context, pk azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	CreateItem(ctx context.Context, pk azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	ReplaceItem(ctx context.Context, pk azcosmos.PartitionKey, itemID string, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	DeleteItem(ctx context.Context, pk azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
}

// sessionDocument is the single Cosmos DB item kept per session. The
// container is partitioned on /sessionId.
type sessionDocument struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"sessionId"`
	Messages   []domain.Message `json:"messages"`
	LeaseUntil int64            `json:"leaseUntil,omitempty"`
	UpdatedAt  string           `json:"updatedAt"`
	TTL        int              `json:"ttl,omitempty"`
}

// CosmosStore keeps session history in Azure Cosmos DB. Writes use the
// document ETag so concurrent instances cannot interleave appends.
type CosmosStore struct {
	container  cosmosAPI
	sessionTTL time.Duration
	lease      time.Duration
	now        func() time.Time
}

// NewCosmosStore wraps a container client. sessionTTL sets the per-item ttl;
// the container must have time-to-live enabled for it to take effect.
func NewCosmosStore(container cosmosAPI, sessionTTL, lease time.Duration) (*CosmosStore, error) {
	if container == nil {
		return nil, errors.New("repository: container must not be nil")
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	if lease <= 0 {
		lease = defaultLease
	}
	return &CosmosStore{container: container, sessionTTL: sessionTTL, lease: lease, now: time.Now}, nil
}

// read returns the session document and its ETag. A missing document is
// reported with found=false.
func (s *CosmosStore) read(ctx context.Context, sessionID string) (doc sessionDocument, etag azcore.ETag, found bool, err error) {
	resp, err := s.container.ReadItem(ctx, azcosmos.NewPartitionKeyString(sessionID), sessionID, nil)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return sessionDocument{}, "", false, nil
		}
		return sessionDocument{}, "", false, err
	}
	if err := json.Unmarshal(resp.Value, &doc); err != nil {
		return sessionDocument{}, "", false, fmt.Errorf("decode session document: %w", err)
	}
	return doc, resp.ETag, true, nil
}

// write creates the document when etag is empty and replaces it otherwise.
func (s *CosmosStore) write(ctx context.Context, doc sessionDocument, etag azcore.ETag) error {
	doc.ID = doc.SessionID
	doc.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	doc.TTL = int(s.sessionTTL / time.Second)
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session document: %w", err)
	}
	pk := azcosmos.NewPartitionKeyString(doc.SessionID)
	if etag == "" {
		_, err = s.container.CreateItem(ctx, pk, body, nil)
	} else {
		_, err = s.container.ReplaceItem(ctx, pk, doc.SessionID, body, &azcosmos.ItemOptions{IfMatchEtag: &etag})
	}
	return err
}

func (s *CosmosStore) Load(ctx context.Context, sessionID string) ([]domain.Message, error) {
	doc, _, _, err := s.read(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: Load: %w", err)
	}
	return doc.Messages, nil
}

func (s *CosmosStore) Append(ctx context.Context, sessionID string, offset int, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	doc, etag, found, err := s.read(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	if !found {
		doc = sessionDocument{SessionID: sessionID}
	}
	if len(doc.Messages) != offset {
		return fmt.Errorf("repository: Append: history has %d messages, expected %d", len(doc.Messages), offset)
	}
	doc.Messages = append(doc.Messages, msgs...)
	if err := s.write(ctx, doc, etag); err != nil {
		if isConflict(err) {
			return fmt.Errorf("repository: Append: %w", ErrHistoryConflict)
		}
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

func (s *CosmosStore) Acquire(ctx context.Context, sessionID string) error {
	doc, etag, found, err := s.read(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("repository: Acquire: %w", err)
	}
	now := s.now()
	if !found {
		doc = sessionDocument{SessionID: sessionID}
	}
	if doc.LeaseUntil > now.UnixMilli() {
		return domain.ErrSessionBusy
	}
	doc.LeaseUntil = now.Add(s.lease).UnixMilli()
	if err := s.write(ctx, doc, etag); err != nil {
		if isConflict(err) {
			return domain.ErrSessionBusy
		}
		return fmt.Errorf("repository: Acquire: %w", err)
	}
	return nil
}

// Release clears the lease, retrying when an append lands between the read
// and the replace.
func (s *CosmosStore) Release(ctx context.Context, sessionID string) error {
	for attempt := 0; attempt < releaseAttempts; attempt++ {
		doc, etag, found, err := s.read(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("repository: Release: %w", err)
		}
		if !found || doc.LeaseUntil == 0 {
			return nil
		}
		doc.LeaseUntil = 0
		err = s.write(ctx, doc, etag)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("repository: Release: %w", err)
		}
	}
	return fmt.Errorf("repository: Release: %w", ErrHistoryConflict)
}

func (s *CosmosStore) Reset(ctx context.Context, sessionID string) error {
	_, err := s.container.DeleteItem(ctx, azcosmos.NewPartitionKeyString(sessionID), sessionID, nil)
	if err != nil && statusOf(err) != http.StatusNotFound {
		return fmt.Errorf("repository: Reset: %w", err)
	}
	return nil
}

func statusOf(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// isConflict reports a lost create race (409) or a stale ETag (412).
func isConflict(err error) bool {
	switch statusOf(err) {
	case http.StatusConflict, http.StatusPreconditionFailed:
		return true
	default:
		return false
	}
}

// CosmosContainer opens the container used by CosmosStore.
func CosmosContainer(client *azcosmos.Client, databaseName, containerName string) (*azcosmos.ContainerClient, error) {
	if strings.TrimSpace(databaseName) == "" || strings.TrimSpace(containerName) == "" {
		return nil, errors.New("repository: cosmos database and container names are required")
	}
	database, err := client.NewDatabase(databaseName)
	if err != nil {
		return nil, fmt.Errorf("repository: open database %q: %w", databaseName, err)
	}
	container, err := database.NewContainer(containerName)
	if err != nil {
		return nil, fmt.Errorf("repository: open container %q: %w", containerName, err)
	}
	return container, nil
}
