// Package scripting hosts the gopher-lua VM driving data-tunable game
// reactions. Growth-stage scripts live in scripts/growth/.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM. Single-goroutine access only (game
// loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory tree.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	for _, sub := range []string{"core", "growth"} {
		if err := e.loadDir(filepath.Join(scriptsDir, sub)); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// OnGrowthStage calls the Lua on_growth_stage hook when a slime crosses a
// growth bucket. Missing hook is fine; script errors are logged and
// swallowed.
func (e *Engine) OnGrowthStage(userID int64, slimeID string, stage int) {
	fn := e.vm.GetGlobal("on_growth_stage")
	if fn == lua.LNil {
		return
	}
	err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(userID), lua.LString(slimeID), lua.LNumber(stage))
	if err != nil {
		e.log.Error("on_growth_stage failed",
			zap.Int64("user", userID),
			zap.String("slime", slimeID),
			zap.Int("stage", stage),
			zap.Error(err))
	}
}

// Close shuts down the VM.
func (e *Engine) Close() {
	if e.vm != nil {
		e.vm.Close()
	}
}
