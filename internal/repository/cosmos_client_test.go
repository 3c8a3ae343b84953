package repository

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/stretchr/testify/require"

	"company-assistant/internal/domain"
)

type cosmosItem struct {
	body []byte
	etag azcore.ETag
}

// fakeContainer keeps items by id and enforces IfMatchEtag like the service.
type fakeContainer struct {
	items    map[string]cosmosItem
	version  int
	readErr  error
	writeErr error
	// beforeReplace runs once before the next replace is checked.
	beforeReplace func()
	replaces      int
}

func newFakeContainer() *fakeContainer {
	return &fakeContainer{items: map[string]cosmosItem{}}
}

func statusErr(code int) error {
	return &azcore.ResponseError{StatusCode: code}
}

func (f *fakeContainer) nextETag() azcore.ETag {
	f.version++
	return azcore.ETag(strconv.Itoa(f.version))
}

func (f *fakeContainer) ReadItem(_ context.Context, _ azcosmos.PartitionKey, id string, _ *azcosmos.ItemOptions) (azcosmos.ItemResponse, error) {
	if f.readErr != nil {
		return azcosmos.ItemResponse{}, f.readErr
	}
	item, ok := f.items[id]
	if !ok {
		return azcosmos.ItemResponse{}, statusErr(http.StatusNotFound)
	}
	resp := azcosmos.ItemResponse{Value: item.body}
	resp.ETag = item.etag
	return resp, nil
}

func (f *fakeContainer) CreateItem(_ context.Context, _ azcosmos.PartitionKey, body []byte, _ *azcosmos.ItemOptions) (azcosmos.ItemResponse, error) {
	if f.writeErr != nil {
		return azcosmos.ItemResponse{}, f.writeErr
	}
	var doc sessionDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return azcosmos.ItemResponse{}, err
	}
	if _, ok := f.items[doc.ID]; ok {
		return azcosmos.ItemResponse{}, statusErr(http.StatusConflict)
	}
	f.items[doc.ID] = cosmosItem{body: body, etag: f.nextETag()}
	return azcosmos.ItemResponse{}, nil
}

func (f *fakeContainer) ReplaceItem(_ context.Context, _ azcosmos.PartitionKey, id string, body []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error) {
	f.replaces++
	if f.beforeReplace != nil {
		hook := f.beforeReplace
		f.beforeReplace = nil
		hook()
	}
	if f.writeErr != nil {
		return azcosmos.ItemResponse{}, f.writeErr
	}
	item, ok := f.items[id]
	if !ok {
		return azcosmos.ItemResponse{}, statusErr(http.StatusNotFound)
	}
	if o != nil && o.IfMatchEtag != nil && *o.IfMatchEtag != item.etag {
		return azcosmos.ItemResponse{}, statusErr(http.StatusPreconditionFailed)
	}
	f.items[id] = cosmosItem{body: body, etag: f.nextETag()}
	return azcosmos.ItemResponse{}, nil
}

func (f *fakeContainer) DeleteItem(_ context.Context, _ azcosmos.PartitionKey, id string, _ *azcosmos.ItemOptions) (azcosmos.ItemResponse, error) {
	if _, ok := f.items[id]; !ok {
		return azcosmos.ItemResponse{}, statusErr(http.StatusNotFound)
	}
	delete(f.items, id)
	return azcosmos.ItemResponse{}, nil
}

func (f *fakeContainer) doc(t *testing.T, id string) sessionDocument {
	t.Helper()
	var doc sessionDocument
	require.NoError(t, json.Unmarshal(f.items[id].body, &doc))
	return doc
}

func mustNewCosmosStore(t *testing.T, c *fakeContainer) *CosmosStore {
	t.Helper()
	s, err := NewCosmosStore(c, time.Hour, time.Minute)
	require.NoError(t, err)
	s.now = fixedNow
	return s
}

func TestCosmosStore_AppendAndLoad(t *testing.T) {
	c := newFakeContainer()
	s := mustNewCosmosStore(t, c)
	ctx := context.Background()

	msgs, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.NoError(t, s.Append(ctx, "abc", 0, domain.Message{Role: domain.RoleUser, Text: "hi"}))
	require.NoError(t, s.Append(ctx, "abc", 1, domain.Message{Role: domain.RoleAssistant, Text: "hello"}))

	msgs, err = s.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, []domain.Message{
		{Role: domain.RoleUser, Text: "hi"},
		{Role: domain.RoleAssistant, Text: "hello"},
	}, msgs)

	doc := c.doc(t, "abc")
	require.Equal(t, "abc", doc.ID)
	require.Equal(t, "abc", doc.SessionID)
	require.Equal(t, 3600, doc.TTL)
}

func TestCosmosStore_AppendRejectsWrongOffset(t *testing.T) {
	s := mustNewCosmosStore(t, newFakeContainer())
	err := s.Append(context.Background(), "abc", 2, domain.Message{Role: domain.RoleUser, Text: "hi"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "history has 0 messages, expected 2")
}

func TestCosmosStore_AppendStaleETag(t *testing.T) {
	c := newFakeContainer()
	s := mustNewCosmosStore(t, c)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "abc", 0, domain.Message{Role: domain.RoleUser, Text: "hi"}))

	c.beforeReplace = func() {
		item := c.items["abc"]
		c.items["abc"] = cosmosItem{body: item.body, etag: c.nextETag()}
	}
	err := s.Append(ctx, "abc", 1, domain.Message{Role: domain.RoleAssistant, Text: "hello"})
	require.ErrorIs(t, err, ErrHistoryConflict)
}

func TestCosmosStore_Lease(t *testing.T) {
	c := newFakeContainer()
	s := mustNewCosmosStore(t, c)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx, "abc"))
	require.Equal(t, fixedNow().Add(time.Minute).UnixMilli(), c.doc(t, "abc").LeaseUntil)
	require.ErrorIs(t, s.Acquire(ctx, "abc"), domain.ErrSessionBusy)

	require.NoError(t, s.Release(ctx, "abc"))
	require.Zero(t, c.doc(t, "abc").LeaseUntil)
	require.NoError(t, s.Acquire(ctx, "abc"))
}

func TestCosmosStore_ExpiredLeaseCanBeTaken(t *testing.T) {
	c := newFakeContainer()
	s := mustNewCosmosStore(t, c)
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx, "abc"))

	s.now = func() time.Time { return fixedNow().Add(2 * time.Minute) }
	require.NoError(t, s.Acquire(ctx, "abc"))
}

func TestCosmosStore_AcquireLosesRace(t *testing.T) {
	c := newFakeContainer()
	s := mustNewCosmosStore(t, c)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "abc", 0, domain.Message{Role: domain.RoleUser, Text: "hi"}))

	c.beforeReplace = func() {
		item := c.items["abc"]
		c.items["abc"] = cosmosItem{body: item.body, etag: c.nextETag()}
	}
	require.ErrorIs(t, s.Acquire(ctx, "abc"), domain.ErrSessionBusy)
}

func TestCosmosStore_ReleaseRetriesOnConflict(t *testing.T) {
	c := newFakeContainer()
	s := mustNewCosmosStore(t, c)
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx, "abc"))

	c.beforeReplace = func() {
		item := c.items["abc"]
		c.items["abc"] = cosmosItem{body: item.body, etag: c.nextETag()}
	}
	c.replaces = 0
	require.NoError(t, s.Release(ctx, "abc"))
	require.Equal(t, 2, c.replaces)
	require.Zero(t, c.doc(t, "abc").LeaseUntil)
}

func TestCosmosStore_ReleaseMissingSession(t *testing.T) {
	s := mustNewCosmosStore(t, newFakeContainer())
	require.NoError(t, s.Release(context.Background(), "nope"))
}

func TestCosmosStore_Reset(t *testing.T) {
	c := newFakeContainer()
	s := mustNewCosmosStore(t, c)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "abc", 0, domain.Message{Role: domain.RoleUser, Text: "hi"}))

	require.NoError(t, s.Reset(ctx, "abc"))
	require.Empty(t, c.items)
	require.NoError(t, s.Reset(ctx, "abc"))
}

func TestCosmosStore_ReadError(t *testing.T) {
	c := newFakeContainer()
	c.readErr = errors.New("service unavailable")
	s := mustNewCosmosStore(t, c)
	_, err := s.Load(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Load")
}

func TestNewCosmosStore_NilContainer(t *testing.T) {
	_, err := NewCosmosStore(nil, time.Hour, time.Minute)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}
