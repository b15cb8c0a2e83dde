package recall_test

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-server/internal/domain/chunker"
	"github.com/recallhq/recall-server/internal/domain/embedding"
	"github.com/recallhq/recall-server/internal/domain/identity"
	"github.com/recallhq/recall-server/internal/domain/index"
	"github.com/recallhq/recall-server/internal/domain/recall"
)

const testDimension = 8

// fakeRepo is an in-memory recall.Repository for pipeline tests.
type fakeRepo struct {
	convsByKey map[string]*recall.Conversation
	convsByID  map[string]*recall.Conversation
	messages   map[string]*recall.Message
	dedup      map[string]string
	chunks     map[string]recall.Chunk
	states     map[string]*recall.SyncState
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		convsByKey: make(map[string]*recall.Conversation),
		convsByID:  make(map[string]*recall.Conversation),
		messages:   make(map[string]*recall.Message),
		dedup:      make(map[string]string),
		chunks:     make(map[string]recall.Chunk),
		states:     make(map[string]*recall.SyncState),
	}
}

func convKey(ownerID, source, externalID string) string {
	return ownerID + "|" + source + "|" + externalID
}

func dedupKey(ownerID, externalID string) string {
	return ownerID + "|" + externalID
}

func stateKey(ownerID, source string) string {
	return ownerID + "|" + source
}

func (r *fakeRepo) UpsertConversation(_ context.Context, conversation *recall.Conversation) (string, error) {
	key := convKey(conversation.OwnerID, conversation.Source, conversation.ExternalID)
	if existing, ok := r.convsByKey[key]; ok {
		existing.Title = conversation.Title
		existing.LastActivityAt = conversation.LastActivityAt
		return existing.ID, nil
	}

	stored := *conversation
	stored.ID = fmt.Sprintf("conv-%d", len(r.convsByID)+1)
	r.convsByKey[key] = &stored
	r.convsByID[stored.ID] = &stored
	return stored.ID, nil
}

func (r *fakeRepo) GetMessageByExternalID(_ context.Context, ownerID, externalID string) (*recall.Message, error) {
	id, ok := r.dedup[dedupKey(ownerID, externalID)]
	if !ok {
		return nil, nil
	}
	return r.messages[id], nil
}

func (r *fakeRepo) CreateMessage(_ context.Context, message *recall.Message) error {
	// The dedup key only applies when the source assigned an external
	// id, mirroring the partial unique index.
	if message.ExternalID != "" {
		key := dedupKey(message.OwnerID, message.ExternalID)
		if _, ok := r.dedup[key]; ok {
			return recall.ErrDuplicateMessage
		}
		r.dedup[key] = message.ID
	}
	stored := *message
	r.messages[stored.ID] = &stored
	return nil
}

func (r *fakeRepo) CreateChunks(_ context.Context, chunks []recall.Chunk) error {
	for _, chunk := range chunks {
		chunk.Embedding = nil
		r.chunks[chunk.ID] = chunk
	}
	return nil
}

func (r *fakeRepo) GetChunkContext(_ context.Context, ownerID string, chunkIDs []string) (map[string]recall.ChunkContext, error) {
	contexts := make(map[string]recall.ChunkContext)
	for _, id := range chunkIDs {
		chunk, ok := r.chunks[id]
		if !ok || chunk.OwnerID != ownerID {
			continue
		}
		message := r.messages[chunk.MessageID]
		if message == nil {
			continue
		}
		conversation := r.convsByID[message.ConversationID]
		title := ""
		if conversation != nil {
			title = conversation.Title
		}
		contexts[id] = recall.ChunkContext{
			ChunkID:           id,
			MessageID:         message.ID,
			ConversationID:    message.ConversationID,
			ConversationTitle: title,
			Sender:            message.Sender,
			SentAt:            message.SentAt,
			Content:           chunk.Content,
		}
	}
	return contexts, nil
}

func (r *fakeRepo) ListChunksPendingEmbedding(_ context.Context, ownerID string, limit int) ([]recall.Chunk, error) {
	var pending []recall.Chunk
	for _, chunk := range r.chunks {
		if chunk.OwnerID == ownerID && chunk.Embedding == nil {
			pending = append(pending, chunk)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *fakeRepo) DeleteConversation(_ context.Context, ownerID, conversationID string) error {
	conversation, ok := r.convsByID[conversationID]
	if !ok || conversation.OwnerID != ownerID {
		return recall.ErrNotFound
	}
	delete(r.convsByID, conversationID)
	delete(r.convsByKey, convKey(conversation.OwnerID, conversation.Source, conversation.ExternalID))
	for id, message := range r.messages {
		if message.ConversationID != conversationID {
			continue
		}
		delete(r.messages, id)
		delete(r.dedup, dedupKey(message.OwnerID, message.ExternalID))
		for chunkID, chunk := range r.chunks {
			if chunk.MessageID == id {
				delete(r.chunks, chunkID)
			}
		}
	}
	return nil
}

func (r *fakeRepo) GetSyncState(_ context.Context, ownerID, source string) (*recall.SyncState, error) {
	state, ok := r.states[stateKey(ownerID, source)]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (r *fakeRepo) BeginSync(_ context.Context, ownerID, source string) (*recall.SyncState, error) {
	key := stateKey(ownerID, source)
	state, ok := r.states[key]
	if !ok {
		state = &recall.SyncState{
			ID:      "state-" + key,
			OwnerID: ownerID,
			Source:  source,
			Status:  recall.SyncStatusIdle,
		}
		r.states[key] = state
	}
	if state.Status == recall.SyncStatusRunning {
		return nil, recall.ErrSyncAlreadyRunning
	}
	state.Status = recall.SyncStatusRunning
	state.LastError = ""
	copied := *state
	return &copied, nil
}

func (r *fakeRepo) AdvanceSyncCursor(_ context.Context, ownerID, source, cursor string) error {
	state, ok := r.states[stateKey(ownerID, source)]
	if !ok {
		return recall.ErrNotFound
	}
	state.Cursor = cursor
	return nil
}

func (r *fakeRepo) CompleteSync(_ context.Context, ownerID, source, cursor string) error {
	state, ok := r.states[stateKey(ownerID, source)]
	if !ok {
		return recall.ErrNotFound
	}
	now := time.Now()
	state.Cursor = cursor
	state.Status = recall.SyncStatusIdle
	state.LastError = ""
	state.LastSyncedAt = &now
	return nil
}

func (r *fakeRepo) FailSync(_ context.Context, ownerID, source, detail string) error {
	state, ok := r.states[stateKey(ownerID, source)]
	if !ok {
		return recall.ErrNotFound
	}
	state.Status = recall.SyncStatusError
	state.LastError = detail
	return nil
}

// fakeFetcher serves canned pages keyed by cursor.
type fakeFetcher struct {
	pages map[string]recall.Page
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _, cursor string) (recall.Page, error) {
	f.calls++
	if f.err != nil {
		return recall.Page{}, f.err
	}
	page, ok := f.pages[cursor]
	if !ok {
		return recall.Page{}, fmt.Errorf("no page at cursor %q", cursor)
	}
	return page, nil
}

// fakeEmbedder returns a deterministic unit vector per text, or a
// permanent provider error for texts listed in reject.
type fakeEmbedder struct {
	reject map[string]bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if f.reject[text] {
			return nil, &embedding.ProviderError{StatusCode: http.StatusBadRequest, Body: "rejected input"}
		}
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = textVector(text)
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return testDimension }

// textVector spreads texts across axes by length so distinct contents
// rarely collide.
func textVector(text string) []float32 {
	v := make([]float32, testDimension)
	v[len(text)%testDimension] = 1
	return v
}

func rawMessage(conv, id, body string) recall.RawMessage {
	return recall.RawMessage{
		ConversationExternalID: conv,
		ConversationTitle:      "Thread " + conv,
		ExternalID:             id,
		Sender:                 "alice",
		SentAt:                 time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Body:                   body,
	}
}

// persistingIndex marks a chunk as embedded in the repository when its
// vector lands, the way the pgvector index writes the embedding column.
type persistingIndex struct {
	index.Index
	repo *fakeRepo
}

func (p *persistingIndex) Upsert(ctx context.Context, owner identity.Principal, chunkID string, vector []float32) error {
	if err := p.Index.Upsert(ctx, owner, chunkID, vector); err != nil {
		return err
	}
	if chunk, ok := p.repo.chunks[chunkID]; ok {
		chunk.Embedding = append([]float32(nil), vector...)
		p.repo.chunks[chunkID] = chunk
	}
	return nil
}

type testEnv struct {
	repo    *fakeRepo
	fetcher *fakeFetcher
	idx     *index.MemoryIndex
	service *recall.Service
}

func newTestEnv(t *testing.T, embedder embedding.Client, fetcher *fakeFetcher) *testEnv {
	t.Helper()

	env := &testEnv{repo: newFakeRepo(), fetcher: fetcher, idx: index.NewMemoryIndex(testDimension)}
	env.service = newServiceFor(t, env, embedder)
	return env
}

// newServiceFor builds a service over the env's shared repo and index,
// so tests can swap the embedder between runs.
func newServiceFor(t *testing.T, env *testEnv, embedder embedding.Client) *recall.Service {
	t.Helper()

	gateway := embedding.NewGateway(embedder, 4, 0, time.Second)
	chunks, err := chunker.New(200, 20)
	require.NoError(t, err)

	return recall.NewService(env.repo, env.fetcher, chunks, gateway,
		&persistingIndex{Index: env.idx, repo: env.repo}, nil, recall.ServiceConfig{
			FetchTimeout:         time.Second,
			DefaultLimit:         10,
			DefaultMinSimilarity: 0.1,
		})
}

func TestRunSyncIngestsNewMessages(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	fetcher := &fakeFetcher{pages: map[string]recall.Page{
		"": {
			Messages: []recall.RawMessage{
				rawMessage("conv-a", "m1", "We agreed to ship the rollout on Friday."),
				rawMessage("conv-a", "m2", "The rollout plan needs the db migration first."),
				rawMessage("conv-b", "m3", "Lunch at noon?"),
			},
			NextCursor: "cursor-1",
			HasMore:    false,
		},
	}}
	env := newTestEnv(t, &fakeEmbedder{}, fetcher)

	// Pre-seed m2 so the dedup path is exercised.
	require.NoError(t, env.repo.CreateMessage(context.Background(), &recall.Message{
		ID:         "pre-m2",
		OwnerID:    owner.ID,
		ExternalID: "m2",
	}))

	report, err := env.service.RunSync(context.Background(), owner, "chat")
	require.NoError(t, err)

	assert.Equal(t, 3, report.MessagesFetched)
	assert.Equal(t, 2, report.MessagesCreated)
	assert.Equal(t, 1, report.MessagesSkipped)
	assert.Equal(t, 2, report.ChunksEmbedded)
	assert.Equal(t, 0, report.ChunksPending)
	assert.Equal(t, "cursor-1", report.Cursor)

	state, err := env.service.GetSyncStatus(context.Background(), owner, "chat")
	require.NoError(t, err)
	assert.Equal(t, recall.SyncStatusIdle, state.Status)
	assert.Equal(t, "cursor-1", state.Cursor)
	assert.NotNil(t, state.LastSyncedAt)

	// The ingested content is searchable end to end.
	results, err := env.service.Search(context.Background(), owner, recall.SearchRequest{
		QueryVector: textVector("We agreed to ship the rollout on Friday."),
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "We agreed to ship the rollout on Friday.", results[0].Content)
	assert.Equal(t, "Thread conv-a", results[0].ConversationTitle)
}

func TestRunSyncIdempotentRerun(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	page := recall.Page{
		Messages: []recall.RawMessage{
			rawMessage("conv-a", "m1", "First message body."),
			rawMessage("conv-a", "m2", "Second message body!"),
		},
		NextCursor: "cursor-1",
	}
	fetcher := &fakeFetcher{pages: map[string]recall.Page{"": page, "cursor-1": page}}
	env := newTestEnv(t, &fakeEmbedder{}, fetcher)

	first, err := env.service.RunSync(context.Background(), owner, "chat")
	require.NoError(t, err)
	assert.Equal(t, 2, first.MessagesCreated)

	second, err := env.service.RunSync(context.Background(), owner, "chat")
	require.NoError(t, err)
	assert.Equal(t, 0, second.MessagesCreated)
	assert.Equal(t, 2, second.MessagesSkipped)
	assert.Len(t, env.repo.messages, 2)
}

func TestRunSyncMessagesWithoutExternalIDNeverDedup(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	fetcher := &fakeFetcher{pages: map[string]recall.Page{
		"": {
			Messages: []recall.RawMessage{
				rawMessage("conv-a", "", "First note without an id."),
				rawMessage("conv-a", "", "Second, completely different note."),
			},
			NextCursor: "cursor-1",
		},
	}}
	env := newTestEnv(t, &fakeEmbedder{}, fetcher)

	report, err := env.service.RunSync(context.Background(), owner, "chat")
	require.NoError(t, err)

	// Neither message carries a dedup key, so neither may be dropped.
	assert.Equal(t, 2, report.MessagesCreated)
	assert.Equal(t, 0, report.MessagesSkipped)
	assert.Len(t, env.repo.messages, 2)
}

func TestRunSyncEmbeddingFailureLeavesChunksPending(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	fetcher := &fakeFetcher{pages: map[string]recall.Page{
		"": {
			Messages: []recall.RawMessage{
				rawMessage("conv-a", "m1", "A perfectly fine message."),
				rawMessage("conv-a", "m2", "poison"),
				rawMessage("conv-a", "m3", "Another fine one here."),
			},
			NextCursor: "cursor-1",
		},
	}}
	env := newTestEnv(t, &fakeEmbedder{reject: map[string]bool{"poison": true}}, fetcher)

	report, err := env.service.RunSync(context.Background(), owner, "chat")
	require.NoError(t, err)

	assert.Equal(t, 3, report.MessagesCreated)
	assert.Equal(t, 2, report.ChunksEmbedded)
	assert.Equal(t, 1, report.ChunksPending)

	// The rejected message is persisted, just not indexed.
	msg, err := env.repo.GetMessageByExternalID(context.Background(), owner.ID, "m2")
	require.NoError(t, err)
	require.NotNil(t, msg)

	state, err := env.service.GetSyncStatus(context.Background(), owner, "chat")
	require.NoError(t, err)
	assert.Equal(t, recall.SyncStatusIdle, state.Status)
}

// downEmbedder fails every call with a transient error, as if the
// provider were unreachable.
type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("connection refused")
}

func (downEmbedder) Dimension() int { return testDimension }

func TestRunSyncEmbedsPendingChunksFromEarlierRun(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	page := recall.Page{
		Messages: []recall.RawMessage{
			rawMessage("conv-a", "m1", "Decision: we go with the blue design."),
			rawMessage("conv-a", "m2", "Noted, blue it is."),
		},
		NextCursor: "cursor-1",
	}
	fetcher := &fakeFetcher{pages: map[string]recall.Page{"": page, "cursor-1": page}}
	env := newTestEnv(t, downEmbedder{}, fetcher)

	// First run: provider down, everything persists without vectors.
	first, err := env.service.RunSync(context.Background(), owner, "chat")
	require.NoError(t, err)
	assert.Equal(t, 2, first.MessagesCreated)
	assert.Equal(t, 0, first.ChunksEmbedded)
	assert.Equal(t, 2, first.ChunksPending)

	// Second run with the provider back: the sweep embeds the
	// stranded chunks even though both messages dedup-skip.
	recovered := newServiceFor(t, env, &fakeEmbedder{})
	second, err := recovered.RunSync(context.Background(), owner, "chat")
	require.NoError(t, err)
	assert.Equal(t, 0, second.MessagesCreated)
	assert.Equal(t, 2, second.MessagesSkipped)
	assert.Equal(t, 2, second.ChunksEmbedded)
	assert.Equal(t, 0, second.ChunksPending)

	results, err := recovered.Search(context.Background(), owner, recall.SearchRequest{
		QueryVector: textVector("Decision: we go with the blue design."),
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Decision: we go with the blue design.", results[0].Content)

	// Nothing left to sweep on a third run.
	third, err := recovered.RunSync(context.Background(), owner, "chat")
	require.NoError(t, err)
	assert.Equal(t, 0, third.ChunksEmbedded)
	assert.Equal(t, 0, third.ChunksPending)
}

func TestRunSyncRejectsConcurrentRun(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	fetcher := &fakeFetcher{pages: map[string]recall.Page{"": {}}}
	env := newTestEnv(t, &fakeEmbedder{}, fetcher)

	_, err := env.repo.BeginSync(context.Background(), owner.ID, "chat")
	require.NoError(t, err)

	_, err = env.service.RunSync(context.Background(), owner, "chat")
	assert.ErrorIs(t, err, recall.ErrSyncAlreadyRunning)
	assert.Empty(t, env.repo.messages)
	assert.Equal(t, 0, fetcher.calls)
}

func TestRunSyncFetchErrorPreservesCursor(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	fetcher := &fakeFetcher{pages: map[string]recall.Page{
		"": {
			Messages:   []recall.RawMessage{rawMessage("conv-a", "m1", "Page one message.")},
			NextCursor: "cursor-1",
			HasMore:    true,
		},
		// No page at cursor-1: the second fetch fails.
	}}
	env := newTestEnv(t, &fakeEmbedder{}, fetcher)

	_, err := env.service.RunSync(context.Background(), owner, "chat")
	require.Error(t, err)

	state, err := env.service.GetSyncStatus(context.Background(), owner, "chat")
	require.NoError(t, err)
	assert.Equal(t, recall.SyncStatusError, state.Status)
	assert.NotEmpty(t, state.LastError)
	// Page one committed before the failure.
	assert.Equal(t, "cursor-1", state.Cursor)
	assert.Len(t, env.repo.messages, 1)
}

func TestRunSyncCancellationBetweenMessages(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	ctx, cancel := context.WithCancel(context.Background())

	fetcher := &fakeFetcher{pages: map[string]recall.Page{
		"": {
			Messages: []recall.RawMessage{
				rawMessage("conv-a", "m1", "First."),
				rawMessage("conv-a", "m2", "Second."),
			},
			NextCursor: "cursor-1",
		},
	}}
	// Cancel after the first message has been ingested.
	embedder := &cancellingEmbedder{inner: &fakeEmbedder{}, cancel: cancel, after: 1}
	env := newTestEnv(t, embedder, fetcher)

	_, err := env.service.RunSync(ctx, owner, "chat")
	require.ErrorIs(t, err, context.Canceled)

	state, err := env.service.GetSyncStatus(context.Background(), owner, "chat")
	require.NoError(t, err)
	assert.Equal(t, recall.SyncStatusError, state.Status)
	// The page never completed, so the cursor did not advance.
	assert.Equal(t, "", state.Cursor)
	// The first message unit was not torn down.
	assert.Len(t, env.repo.messages, 1)
}

// cancellingEmbedder cancels the run's context once `after` embed
// calls have gone through.
type cancellingEmbedder struct {
	inner  embedding.Client
	cancel context.CancelFunc
	after  int
	calls  int
}

func (c *cancellingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	vectors, err := c.inner.Embed(ctx, texts)
	if c.calls >= c.after {
		c.cancel()
	}
	return vectors, err
}

func (c *cancellingEmbedder) Dimension() int { return testDimension }

func TestSearchSkipsOrphanedIndexEntries(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	env := newTestEnv(t, &fakeEmbedder{}, &fakeFetcher{})

	// An index entry with no backing row must not surface.
	require.NoError(t, env.idx.Upsert(context.Background(), owner, "ghost-chunk", textVector("ghost")))

	results, err := env.service.Search(context.Background(), owner, recall.SearchRequest{
		QueryVector: textVector("ghost"),
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRequiresQueryOrVector(t *testing.T) {
	owner := identity.Principal{ID: "user-1"}
	env := newTestEnv(t, &fakeEmbedder{}, &fakeFetcher{})

	_, err := env.service.Search(context.Background(), owner, recall.SearchRequest{})
	assert.Error(t, err)
}

func TestSearchRejectsInvalidPrincipal(t *testing.T) {
	env := newTestEnv(t, &fakeEmbedder{}, &fakeFetcher{})

	_, err := env.service.Search(context.Background(), identity.Principal{}, recall.SearchRequest{
		QueryVector: textVector("anything"),
	})
	assert.ErrorIs(t, err, index.ErrInvalidPrincipal)
}

func TestGetSyncStatusUnknownSource(t *testing.T) {
	env := newTestEnv(t, &fakeEmbedder{}, &fakeFetcher{})

	_, err := env.service.GetSyncStatus(context.Background(), identity.Principal{ID: "user-1"}, "never-synced")
	assert.ErrorIs(t, err, recall.ErrNotFound)
}

func TestRunSyncCrossOwnerIsolation(t *testing.T) {
	alice := identity.Principal{ID: "alice"}
	bob := identity.Principal{ID: "bob"}

	fetcher := &fakeFetcher{pages: map[string]recall.Page{
		"": {
			Messages:   []recall.RawMessage{rawMessage("conv-a", "m1", "Alice private note.")},
			NextCursor: "cursor-1",
		},
	}}
	env := newTestEnv(t, &fakeEmbedder{}, fetcher)

	_, err := env.service.RunSync(context.Background(), alice, "chat")
	require.NoError(t, err)

	results, err := env.service.Search(context.Background(), bob, recall.SearchRequest{
		QueryVector: textVector("Alice private note."),
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	// Bob has no sync state either.
	_, err = env.service.GetSyncStatus(context.Background(), bob, "chat")
	assert.ErrorIs(t, err, recall.ErrNotFound)
}
