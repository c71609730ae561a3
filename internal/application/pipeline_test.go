package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

// fakeSessionStore is an in-memory ports.SessionStore for pipeline tests.
type fakeSessionStore struct {
	sessions  map[string]*domain.Session
	putErr    error
	putCalls  int
	lastDelta []domain.Message
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*domain.Session)}
}

func (f *fakeSessionStore) seed(id string, allocations domain.AllocationMap, history []domain.Message) {
	f.sessions[id] = &domain.Session{
		ID:           id,
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
		Allocations:  allocations.Clone(),
		History:      history,
	}
}

func (f *fakeSessionStore) Create(context.Context) (*domain.Session, error) {
	sess := &domain.Session{ID: "new-session", Allocations: domain.AllocationMap{}}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeSessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *sess
	copied.Allocations = sess.Allocations.Clone()
	return &copied, nil
}

func (f *fakeSessionStore) Put(
	_ context.Context, id string, allocations domain.AllocationMap, delta []domain.Message,
) error {
	if f.putErr != nil {
		return f.putErr
	}
	sess, ok := f.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	f.putCalls++
	f.lastDelta = delta
	sess.Allocations = allocations.Clone()
	sess.History = append(sess.History, delta...)
	return nil
}

func (f *fakeSessionStore) DeletePin(_ context.Context, id string, pin domain.PinID) error {
	sess, ok := f.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	delete(sess.Allocations, pin)
	return nil
}

func (f *fakeSessionStore) Delete(_ context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionStore) Sweep(context.Context, time.Duration) (int, error) { return 0, nil }

// fakeReferenceStore serves a fixed entry set and the standard role table.
type fakeReferenceStore struct{ entries []ports.ReferenceEntry }

func (f *fakeReferenceStore) Search(string, int) []ports.ReferenceEntry { return f.entries }

func (f *fakeReferenceStore) InterfaceRoles() map[string][]string {
	return map[string][]string{
		"i2c":  {"SCL", "SDA"},
		"spi":  {"SCK", "MOSI", "MISO"},
		"uart": {"TX", "RX"},
	}
}

// fakeOracle returns a canned result and records the request it saw.
type fakeOracle struct {
	result       *ports.GenerateResult
	err          error
	lastMessages []domain.Message
	lastOpts     map[string]any
}

func (f *fakeOracle) Generate(
	_ context.Context, messages []domain.Message, opts map[string]any,
) (*ports.GenerateResult, error) {
	f.lastMessages = messages
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeOracle) EstimateTokens(text string) (int, error) { return (len(text) + 3) / 4, nil }

func (f *fakeOracle) GetModel() string { return "fake-model" }

func newTestPipeline(
	t *testing.T, store *fakeSessionStore, oracle *fakeOracle,
) *TurnPipeline {
	t.Helper()
	pipeline, err := NewTurnPipeline(
		store,
		&fakeReferenceStore{entries: []ports.ReferenceEntry{
			{Kind: "device", Key: "MPU6050", Text: "MPU6050 [i2c, needs SCL/SDA]: 6-axis IMU"},
		}},
		oracle,
		nil,
		nil,
		PipelineConfig{ReferenceLimit: 5, Temperature: 0.2, MaxTokens: 512},
	)
	require.NoError(t, err)
	return pipeline
}

func TestNewTurnPipeline_NilDependencies(t *testing.T) {
	store := newFakeSessionStore()
	oracle := &fakeOracle{}
	reference := &fakeReferenceStore{}

	_, err := NewTurnPipeline(nil, reference, oracle, nil, nil, PipelineConfig{})
	assert.Error(t, err)

	_, err = NewTurnPipeline(store, nil, oracle, nil, nil, PipelineConfig{})
	assert.Error(t, err)

	_, err = NewTurnPipeline(store, reference, nil, nil, nil, PipelineConfig{})
	assert.Error(t, err)
}

func TestProcessTurn_ConnectionWithToolPayload(t *testing.T) {
	store := newFakeSessionStore()
	store.seed("s1", domain.AllocationMap{}, nil)

	oracle := &fakeOracle{result: &ports.GenerateResult{
		Reply: "Connected the IMU: SCL on PB6, SDA on PB7.",
		ToolCalls: []domain.ToolAllocation{
			{Pin: "PB6", Function: "SCL", Device: "MPU6050"},
			{Pin: "PB7", Function: "SDA", Device: "MPU6050"},
		},
	}}

	pipeline := newTestPipeline(t, store, oracle)

	result, err := pipeline.ProcessTurn(context.Background(), "s1", "Connect the MPU6050 over I2C")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentConnection, result.Intent)
	assert.Equal(t, "Connected the IMU: SCL on PB6, SDA on PB7.", result.Reply)
	assert.ElementsMatch(t, []domain.PinID{"PB6", "PB7"}, result.Changes.Added)
	assert.Empty(t, result.Warnings)

	// Tool stays enabled on connection turns.
	_, disabled := oracle.lastOpts["disable_tools"]
	assert.False(t, disabled)

	// Persisted state matches the returned result.
	sess, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, result.Allocations, sess.Allocations)
	require.Len(t, store.lastDelta, 2)
	assert.Equal(t, domain.RoleUser, store.lastDelta[0].Role)
	assert.Equal(t, domain.RoleAssistant, store.lastDelta[1].Role)
}

func TestProcessTurn_InformationalNeverAllocates(t *testing.T) {
	store := newFakeSessionStore()
	existing := domain.AllocationMap{"PA5": {Function: "SPI_SCK", Device: "W25Q64"}}
	store.seed("s1", existing, nil)

	// Even a reply full of pin prose must not mutate the map on an
	// informational turn.
	oracle := &fakeOracle{result: &ports.GenerateResult{
		Reply: "PB6 works well as SCL and PB7 as SDA for the MPU6050.",
	}}

	pipeline := newTestPipeline(t, store, oracle)

	result, err := pipeline.ProcessTurn(context.Background(), "s1", "Which pins are best for I2C?")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentInformational, result.Intent)
	assert.Equal(t, existing, result.Allocations)
	assert.True(t, result.Changes.Empty())
	assert.Equal(t, true, oracle.lastOpts["disable_tools"])

	// The turn still lands in history.
	assert.Equal(t, 1, store.putCalls)
}

func TestProcessTurn_IncompleteInterfaceWarns(t *testing.T) {
	store := newFakeSessionStore()
	store.seed("s1", domain.AllocationMap{}, nil)

	oracle := &fakeOracle{result: &ports.GenerateResult{
		Reply: "Clock line done.",
		ToolCalls: []domain.ToolAllocation{
			{Pin: "PB6", Function: "SCL", Device: "MPU6050"},
		},
	}}

	pipeline := newTestPipeline(t, store, oracle)

	result, err := pipeline.ProcessTurn(context.Background(), "s1", "Wire up the MPU6050 clock first")
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "MPU6050", result.Warnings[0].Device)
	assert.Equal(t, "i2c", result.Warnings[0].Interface)
	assert.Equal(t, []string{"SDA"}, result.Warnings[0].MissingRoles)
}

func TestProcessTurn_ConflictReported(t *testing.T) {
	store := newFakeSessionStore()
	store.seed("s1", domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
	}, nil)

	oracle := &fakeOracle{result: &ports.GenerateResult{
		Reply: "Putting the GPS on PB6.",
		ToolCalls: []domain.ToolAllocation{
			{Pin: "PB6", Function: "TX", Device: "NEO6M"},
		},
	}}

	pipeline := newTestPipeline(t, store, oracle)

	result, err := pipeline.ProcessTurn(context.Background(), "s1", "Connect the NEO6M GPS")
	require.NoError(t, err)

	require.Len(t, result.Changes.Conflicts, 1)
	assert.Equal(t, domain.PinID("PB6"), result.Changes.Conflicts[0].Pin)
	assert.Equal(t, "MPU6050", result.Changes.Conflicts[0].ExistingDevice)
	assert.Equal(t, "NEO6M", result.Changes.Conflicts[0].CandidateDevice)

	// The original binding survives.
	assert.Equal(t, "MPU6050", result.Allocations["PB6"].Device)
}

func TestProcessTurn_Errors(t *testing.T) {
	t.Run("empty utterance", func(t *testing.T) {
		store := newFakeSessionStore()
		store.seed("s1", domain.AllocationMap{}, nil)
		pipeline := newTestPipeline(t, store, &fakeOracle{result: &ports.GenerateResult{Reply: "ok"}})

		_, err := pipeline.ProcessTurn(context.Background(), "s1", "   ")
		assert.ErrorIs(t, err, ErrEmptyUtterance)
	})

	t.Run("unknown session", func(t *testing.T) {
		pipeline := newTestPipeline(t, newFakeSessionStore(),
			&fakeOracle{result: &ports.GenerateResult{Reply: "ok"}})

		_, err := pipeline.ProcessTurn(context.Background(), "missing", "Connect the MPU6050")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("oracle failure leaves session untouched", func(t *testing.T) {
		store := newFakeSessionStore()
		store.seed("s1", domain.AllocationMap{}, nil)
		pipeline := newTestPipeline(t, store, &fakeOracle{err: errors.New("provider down")})

		_, err := pipeline.ProcessTurn(context.Background(), "s1", "Connect the MPU6050")
		assert.Error(t, err)
		assert.Equal(t, 0, store.putCalls)
	})

	t.Run("persist failure surfaces", func(t *testing.T) {
		store := newFakeSessionStore()
		store.seed("s1", domain.AllocationMap{}, nil)
		store.putErr = errors.New("disk full")
		pipeline := newTestPipeline(t, store, &fakeOracle{result: &ports.GenerateResult{Reply: "ok"}})

		_, err := pipeline.ProcessTurn(context.Background(), "s1", "Connect the MPU6050")
		assert.Error(t, err)
	})
}

func TestBuildMessages_PromptContext(t *testing.T) {
	store := newFakeSessionStore()
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "earlier question"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
	}
	store.seed("s1", domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050", Notes: "400 kHz"},
	}, history)

	oracle := &fakeOracle{result: &ports.GenerateResult{Reply: "noted"}}
	pipeline := newTestPipeline(t, store, oracle)

	_, err := pipeline.ProcessTurn(context.Background(), "s1", "Connect the BME280 as well")
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(oracle.lastMessages), 4)
	system := oracle.lastMessages[0]
	assert.Equal(t, domain.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "record_pin_allocations")
	assert.Contains(t, system.Content, "MPU6050 [i2c, needs SCL/SDA]")
	assert.Contains(t, system.Content, "PB6: SCL (MPU6050) | 400 kHz")

	// History precedes the new utterance.
	assert.Equal(t, "earlier question", oracle.lastMessages[1].Content)
	assert.Equal(t, "earlier answer", oracle.lastMessages[2].Content)
	assert.Equal(t, "Connect the BME280 as well", oracle.lastMessages[len(oracle.lastMessages)-1].Content)
}

func TestTrimHistory(t *testing.T) {
	pipeline := newTestPipeline(t, newFakeSessionStore(), &fakeOracle{})
	pipeline.config.HistoryTokenBudget = 10 // ~40 characters with the fake estimator

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "this is an old message that should be dropped"},
		{Role: domain.RoleAssistant, Content: "0123456789012345"}, // 4 tokens
		{Role: domain.RoleUser, Content: "01234567890123456789"},  // 5 tokens
	}

	got := pipeline.trimHistory(history)
	require.Len(t, got, 2)
	assert.Equal(t, "0123456789012345", got[0].Content)
}
