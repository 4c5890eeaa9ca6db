package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/cantora-backend/internal/notifications"
	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db/dbtest"
	"github.com/angelmondragon/cantora-backend/pkg/db/models"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

func testConfig() *config.Config {
	return &config.Config{
		FeatureFlags: config.FeatureFlagsConfig{Notifications: true, DistributedApproval: true},
		Generation: config.GenerationConfig{
			Provider:           config.GenerationProviderHTTP,
			HTTPBaseURL:        "http://generation.invalid",
			LyricsTimeout:      time.Second,
			StylePromptTimeout: time.Second,
			MaxAttempts:        2,
		},
		Orchestrator: config.OrchestratorConfig{
			DetailedDeadline:  time.Second,
			QuickDeadline:     time.Second,
			DefaultLanguage:   "pt",
			DefaultVoiceType:  "feminina",
			LyricOptionsCount: 1,
		},
	}
}

func TestBuildRequiresConfigAndDB(t *testing.T) {
	_, err := Build(Params{})
	require.Error(t, err)

	_, err = Build(Params{Config: testConfig()})
	require.Error(t, err)
}

func TestBuildWiresServices(t *testing.T) {
	client, conn := dbtest.Client(t)
	graph, err := Build(Params{Config: testConfig(), DB: client, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.NotNil(t, graph.Orders)
	require.NotNil(t, graph.Credits)
	require.NotNil(t, graph.Orchestrator)
	require.NotNil(t, graph.Coordinator)
	require.NotNil(t, graph.Music)
	_, isNop := graph.Notifier.(notifications.Nop)
	require.False(t, isNop)

	order := dbtest.SeedOrder(t, conn, func(o *models.Order) {
		o.Status = enums.OrderStatusLyricsApproved
		o.PaymentStatus = enums.PaymentStatusPaid
	})
	snap, err := graph.Music.MarkGenerating(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusMusicGenerating, snap.Status)
}

func TestBuildDisabledNotificationsUseNop(t *testing.T) {
	client, _ := dbtest.Client(t)
	cfg := testConfig()
	cfg.FeatureFlags.Notifications = false
	graph, err := Build(Params{Config: cfg, DB: client})
	require.NoError(t, err)
	_, isNop := graph.Notifier.(notifications.Nop)
	require.True(t, isNop)
}
