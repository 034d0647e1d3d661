package ops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/spr/internal/config"
	"github.com/hpungsan/spr/internal/prompt"
	"github.com/hpungsan/spr/internal/status"
	"github.com/hpungsan/spr/internal/syncer"
)

// TestFullWorkflow exercises the capture lifecycle:
// configure → capture → sync → status → recent
func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.configureServer(t)

	// 1. Capture three prompts
	for _, text := range []string{"alpha", "beta", "gamma"} {
		env.clock.Advance(time.Second)
		out, err := env.svc.SavePrompt(ctx, SavePromptInput{Site: "chatgpt", PromptText: text})
		require.NoError(t, err)
		require.True(t, out.Captured)
		env.syncer.Wait()
	}

	// 2. Force a cycle; captures may already have been delivered by their triggers
	resp := env.svc.Dispatch(ctx, Message{Type: MsgTriggerSync})
	require.True(t, resp.OK)
	out := resp.Data.(*TriggerSyncOutput)
	require.NotNil(t, out.Result)

	// 3. Status shows an empty queue and a clean summary
	snap, err := env.svc.GetStatus(ctx)
	require.NoError(t, err)
	require.Zero(t, snap.Pending)
	require.Zero(t, snap.Failed)
	require.Equal(t, 3, snap.Total)
	require.NotNil(t, snap.LastSyncAt)
	require.Nil(t, snap.LastSyncError)

	// 4. Every event is synced and each was delivered once
	recent, err := env.svc.GetRecent(ctx, GetRecentInput{})
	require.NoError(t, err)
	for _, ev := range recent.Items {
		require.Equal(t, prompt.StatusSynced, ev.SyncStatus)
	}
	require.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, env.client.prompts)
}

// TestRetryFailedWorkflow exercises failure → dead letter → manual retry → delivery.
func TestRetryFailedWorkflow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxAttempts = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	env.configureServer(t)
	env.client.setFail(true)

	out, err := env.svc.SavePrompt(ctx, SavePromptInput{Site: "chatgpt", PromptText: "flaky"})
	require.NoError(t, err)
	env.syncer.Wait()

	// Drive attempts until the prompt is dead-lettered.
	for i := 0; i < 3; i++ {
		env.clock.Advance(time.Minute)
		_, err := env.svc.TriggerSync(ctx, TriggerSyncInput{Wait: true})
		require.NoError(t, err)
	}
	recent, err := env.svc.GetRecent(ctx, GetRecentInput{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, prompt.StatusDead, recent.Items[0].SyncStatus)
	require.Zero(t, env.queue(t).Len())

	snap, err := env.svc.GetStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.LastSyncError)
	require.Equal(t, status.PartialFailure, *snap.LastSyncError)

	// Retry once the server recovers.
	env.client.setFail(false)
	retry, err := env.svc.RetryFailed(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{out.LocalID}, retry.Reset)
	env.syncer.Wait()

	if !retry.Triggered {
		res, err := env.syncer.RunCycle(ctx, syncer.ReasonManual)
		require.NoError(t, err)
		require.Equal(t, 1, res.Succeeded)
	}
	recent, err = env.svc.GetRecent(ctx, GetRecentInput{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, prompt.StatusSynced, recent.Items[0].SyncStatus)
}

func TestTriggerSync_SkipsWhenNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	out, err := env.svc.TriggerSync(context.Background(), TriggerSyncInput{Wait: true})
	require.NoError(t, err)
	require.False(t, out.Started)
	require.True(t, out.Result.Skipped)
	require.Equal(t, syncer.SkipNotConfigured, out.Result.SkipReason)
}
