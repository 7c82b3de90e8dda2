package health

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Ayash-Bera/arena/internal/database"
	"github.com/Ayash-Bera/arena/internal/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestCheckAll_RollsUpStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks []Check
		want   string
	}{
		{"all healthy", []Check{{Name: "database", Critical: true, Probe: ok}, {Name: "redis", Probe: ok}}, StatusHealthy},
		{"optional down", []Check{{Name: "database", Critical: true, Probe: ok}, {Name: "redis", Probe: down}}, StatusDegraded},
		{"critical down", []Check{{Name: "database", Critical: true, Probe: down}, {Name: "redis", Probe: down}}, StatusUnhealthy},
		{"disabled is fine", []Check{{Name: "database", Critical: true, Probe: ok}, {Name: "redis", Probe: func(context.Context) error { return ErrDisabled }}}, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewHealthChecker(logrus.New(), tt.checks...).CheckAll(context.Background())
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.Services, len(tt.checks))
		})
	}
}

func TestStandardChecks_SQLiteWithoutRedis(t *testing.T) {
	manager, err := database.NewManager(&database.Config{
		Driver:      "sqlite",
		DatabaseURL: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, logrus.New())
	require.NoError(t, err)
	defer manager.Close()

	q := queue.NewMemoryQueue(1, logrus.New())
	got := NewHealthChecker(logrus.New(), StandardChecks(manager, q)...).CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, got.Status)

	statuses := map[string]string{}
	for _, s := range got.Services {
		statuses[s.Name] = s.Status
	}
	assert.Equal(t, map[string]string{"database": StatusHealthy, "redis": StatusDisabled, "queue": StatusHealthy}, statuses)

	require.NoError(t, q.Close())
	got = NewHealthChecker(logrus.New(), StandardChecks(manager, q)...).CheckAll(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
}
