package learning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Ayash-Bera/arena/internal/database"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	repos *repository.RepositoryManager
	store *Store
	embed *fakeEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	manager, err := database.NewManager(&database.Config{
		Driver:      "sqlite",
		DatabaseURL: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	require.NoError(t, manager.Migrate())

	repos := repository.NewRepositoryManager(manager.DB)
	embed := newFakeEmbedder()
	return &testEnv{
		db:    manager.DB,
		repos: repos,
		store: NewStore(repos.Learning, repos.Application, embed, metrics.NewMetrics(), logrus.New()),
		embed: embed,
	}
}

// fakeEmbedder maps known texts to fixed vectors and everything else to a
// vector orthogonal to the ones used in tests.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	delay   time.Duration
	calls   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) set(text string, vector ...float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = vector
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	vector, ok := f.vectors[text]
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return vector, nil
}
