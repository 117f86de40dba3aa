package system

import (
	"testing"
	"time"

	"github.com/slimekeep/server/internal/config"
	"github.com/slimekeep/server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testStageCfg() config.StageConfig {
	return config.StageConfig{
		StageTime:        5 * time.Millisecond,
		FinalDelay:       5 * time.Millisecond,
		GraceSeconds:     5 * time.Millisecond,
		ReparentAttempts: 3,
		ReparentBackoff:  time.Millisecond,
		AbandonedCleanup: time.Hour,
	}
}

func stagedFood(uid string) *world.Tool {
	return &world.Tool{
		UID:       uid,
		Kind:      world.ToolFood,
		OwnerID:   7,
		FoodID:    "berry",
		Container: world.ContainerBackpack,
	}
}

func TestStageToolArmsPreserveFlags(t *testing.T) {
	ws := world.NewState()
	m := NewStageManager(ws, testStageCfg(), zap.NewNop())

	tool := stagedFood("t1")
	ws.AddTool(tool)
	m.StageTool(tool)

	assert.True(t, tool.PreserveOnServer)
	assert.True(t, tool.ServerRestore)
	assert.NotZero(t, tool.RestoreStamp)
	assert.False(t, tool.StagedAt.IsZero())
	assert.Equal(t, world.ContainerServer, tool.Container)
}

func TestStagedToolReleasedAfterHold(t *testing.T) {
	ws := world.NewState()
	m := NewStageManager(ws, testStageCfg(), zap.NewNop())

	tool := stagedFood("t1")
	ws.AddTool(tool)
	m.StageTool(tool)

	// Inside the hold window nothing moves.
	m.Update(0)
	assert.Equal(t, world.ContainerServer, tool.Container)

	time.Sleep(10 * time.Millisecond)
	m.Update(0)

	assert.Equal(t, world.ContainerBackpack, tool.Container)
	assert.False(t, tool.PreserveOnServer)
	assert.True(t, tool.ServerRestore) // cleared later, after the grace window

	// Restore flags drop once the release has aged past delay plus grace.
	time.Sleep(15 * time.Millisecond)
	m.Update(0)
	assert.False(t, tool.ServerRestore)
	assert.Zero(t, tool.RestoreStamp)
}

func TestLockedToolReplacedByClone(t *testing.T) {
	ws := world.NewState()
	m := NewStageManager(ws, testStageCfg(), zap.NewNop())

	tool := stagedFood("t1")
	tool.Locked = true
	ws.AddTool(tool)
	m.StageTool(tool)

	time.Sleep(10 * time.Millisecond)
	// Burn through the attempt budget; each retry backs off linearly.
	for i := 0; i < 10; i++ {
		m.Update(0)
		time.Sleep(5 * time.Millisecond)
	}

	released := ws.GetTool("t1")
	require.NotNil(t, released)
	assert.NotSame(t, tool, released)
	assert.False(t, released.Locked)
	assert.Equal(t, world.ContainerBackpack, released.Container)
	assert.Equal(t, "berry", released.FoodID)
	assert.Equal(t, int64(7), released.OwnerID)
	assert.False(t, released.PreserveOnServer)
}

func TestSettleCounterAdvancesToThreshold(t *testing.T) {
	ws := world.NewState()
	m := NewStageManager(ws, testStageCfg(), zap.NewNop())

	tool := stagedFood("t1")
	ws.AddTool(tool)

	for i := 0; i < world.SettleThreshold+2; i++ {
		m.Update(0)
	}
	assert.True(t, tool.Settled())
	assert.Equal(t, world.SettleThreshold, tool.SettleFrames)
}

func TestAbandonedStagedToolDestroyed(t *testing.T) {
	cfg := testStageCfg()
	cfg.AbandonedCleanup = time.Millisecond
	cfg.StageTime = time.Hour
	ws := world.NewState()
	m := NewStageManager(ws, cfg, zap.NewNop())

	tool := stagedFood("t1")
	ws.AddTool(tool)
	m.StageTool(tool)

	time.Sleep(5 * time.Millisecond)
	m.Update(0)

	assert.Nil(t, ws.GetTool("t1"))
}
