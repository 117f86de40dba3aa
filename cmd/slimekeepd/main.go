package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/slimekeep/server/internal/config"
	"github.com/slimekeep/server/internal/core/event"
	coresys "github.com/slimekeep/server/internal/core/system"
	"github.com/slimekeep/server/internal/data"
	"github.com/slimekeep/server/internal/handler"
	"github.com/slimekeep/server/internal/inventory"
	"github.com/slimekeep/server/internal/persist"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/scripting"
	"github.com/slimekeep/server/internal/serialize"
	"github.com/slimekeep/server/internal/system"
	"github.com/slimekeep/server/internal/transport"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, shardID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            SlimeKeep  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      persistence & inventory core         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(shard: %d)\033[0m\n\n", serverName, shardID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("SLIMEKEEP_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ShardID)

	// 3. Connect to PostgreSQL and run migrations
	printSection("database")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL connected")

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("migrations applied")
	fmt.Println()

	// 4. Remote stores: profile writes get the bigger retry budget.
	profileStore := persist.NewStore(db, log, cfg.Persistence.UpdateMaxAttempts, cfg.Persistence.UpdateBackoffBase)
	totalsStore := persist.NewStore(db, log, cfg.Factions.FlushMaxAttempts, cfg.Factions.FlushBackoffBase)
	shardBus := persist.NewShardBus(db, log)

	// 5. Load data tables
	printSection("data tables")

	slimeTable, err := data.LoadSlimeTable("data/yaml/slime_list.yaml")
	if err != nil {
		return fmt.Errorf("load slime table: %w", err)
	}
	printStat("slime templates", slimeTable.Count())

	eggTable, err := data.LoadEggTable("data/yaml/egg_list.yaml")
	if err != nil {
		return fmt.Errorf("load egg table: %w", err)
	}
	printStat("egg templates", eggTable.Count())

	foodTable, err := data.LoadFoodTable("data/yaml/food_list.yaml")
	if err != nil {
		return fmt.Errorf("load food table: %w", err)
	}
	printStat("food items", foodTable.Count())

	factionTable, err := data.LoadFactionTable(cfg.Factions.TablePath)
	if err != nil {
		return fmt.Errorf("load faction table: %w", err)
	}
	printStat("factions", factionTable.Count())

	// 6. Lua scripting engine
	luaEngine, err := scripting.NewEngine("scripts", log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	printOK("lua scripts loaded")
	fmt.Println()

	// 7. Core state and services
	worldState := world.NewState()
	bus := event.NewBus()

	cache := profile.NewCache(profileStore, cfg.Persistence, factionTable.Names(), log)
	serializer := serialize.New(worldState, slimeTable, eggTable, foodTable, serialize.HatchPreserve, log)
	invService := inventory.New(cache, serializer, bus, cfg.Persistence.VerifiedWait, log)

	growthSys := system.NewGrowthSystem(worldState, cache, bus, cfg.Growth, cfg.Persistence.VerifiedWait, log)
	growthSys.SetStageHooks(luaEngine)
	invService.SetGrowthFlusher(growthSys)

	totals := system.NewFactionTotals(totalsStore, shardBus, cache, factionTable, cfg.Factions, cfg.Server.ShardID, cfg.Persistence.VerifiedWait, log)
	totals.Warm(ctx)

	salePipeline := system.NewSalePipeline(worldState, cache, factionTable, totals, cfg.Sale, cfg.Persistence.VerifiedWait, log)
	stageMgr := system.NewStageManager(worldState, cfg.Stage, log)
	system.NewPreExitSync(worldState, cache, invService, serializer, bus, cfg.Persistence, log)

	// Restore a player's live objects as soon as their profile is resident.
	event.Subscribe(bus, func(ev event.PlayerJoined) {
		if err := invService.RestorePlayer(context.Background(), ev.UserID); err != nil {
			log.Error("player restore failed", zap.Int64("user", ev.UserID), zap.Error(err))
		}
	})

	sender := transport.NewLoopback()
	totals.SetSender(sender)
	deps := &handler.Deps{
		Config:  cfg,
		Log:     log,
		Bus:     bus,
		World:   worldState,
		Cache:   cache,
		Inv:     invService,
		Sale:    salePipeline,
		Totals:  totals,
		Slimes:  slimeTable,
		Eggs:    eggTable,
		Foods:   foodTable,
		Faction: factionTable,
		Tx:      sender,
	}
	handler.RegisterAll(bus, deps)

	// 8. Systems
	runner := coresys.NewRunner()
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(growthSys)
	runner.Register(system.NewAutosaveSystem(cache, cfg.Persistence, log))
	runner.Register(system.NewSummarySystem(cache, cfg.Persistence, log))
	runner.Register(stageMgr)

	// 9. Background loops: totals flush and cross-shard listener.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go totals.Run(bgCtx)
	go func() {
		err := shardBus.Subscribe(bgCtx, persist.TopicFactionTotals, totals.HandleRemote)
		if err != nil && bgCtx.Err() == nil {
			log.Error("shard bus subscription ended", zap.Error(err))
		}
	}()

	event.Emit(bus, event.GameServicesReady{})

	// 10. Game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Server.TickRate)
	defer ticker.Stop()

	printSection("server ready")
	printReady(fmt.Sprintf("game loop started (tick: %s)", cfg.Server.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Server.TickRate)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			return shutdown(worldState, cache, totals, cfg.Persistence, log, bgCancel)
		}
	}
}

// shutdown runs the graceful exit: every online player goes through the
// pre-exit barrier semantics via the cache flush, faction deltas drain,
// and everything closes under the deadline.
func shutdown(ws *world.State, cache *profile.Cache, totals *system.FactionTotals, cfg config.PersistenceConfig, log *zap.Logger, bgCancel context.CancelFunc) error {
	deadline, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
	defer cancel()

	ws.AllPlayers(func(p *world.Player) {
		p.SyncActive = true
	})
	cache.Close(deadline)

	totals.FlushAll(deadline)
	bgCancel()

	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
