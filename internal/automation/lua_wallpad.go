//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerWallpadModule registers the `wallpad` global table in a Lua state.
func registerWallpadModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return wallpadOn(L, vm)
	}))

	mod.RawSetString("state", L.NewFunction(func(L *lua.LState) int {
		return wallpadState(L, e)
	}))

	mod.RawSetString("devices", L.NewFunction(func(L *lua.LState) int {
		return wallpadDevices(L, e)
	}))

	mod.RawSetString("light", L.NewFunction(func(L *lua.LState) int {
		return wallpadLight(L, e)
	}))

	mod.RawSetString("plug", L.NewFunction(func(L *lua.LState) int {
		return wallpadPlug(L, e)
	}))

	mod.RawSetString("heat", L.NewFunction(func(L *lua.LState) int {
		return wallpadHeat(L, e)
	}))

	mod.RawSetString("target", L.NewFunction(func(L *lua.LState) int {
		return wallpadTarget(L, e)
	}))

	mod.RawSetString("away", L.NewFunction(func(L *lua.LState) int {
		return wallpadAway(L, e)
	}))

	mod.RawSetString("fan", L.NewFunction(func(L *lua.LState) int {
		return wallpadFan(L, e)
	}))

	mod.RawSetString("fan_speed", L.NewFunction(func(L *lua.LState) int {
		return wallpadFanSpeed(L, e)
	}))

	mod.RawSetString("fan_preset", L.NewFunction(func(L *lua.LState) int {
		return wallpadFanPreset(L, e)
	}))

	mod.RawSetString("close_gas", L.NewFunction(func(L *lua.LState) int {
		return wallpadCloseGas(L, e)
	}))

	mod.RawSetString("call_elevator", L.NewFunction(func(L *lua.LState) int {
		return wallpadCallElevator(L, e)
	}))

	mod.RawSetString("doorbell", L.NewFunction(func(L *lua.LState) int {
		return wallpadDoorbell(L, e)
	}))

	mod.RawSetString("send", L.NewFunction(func(L *lua.LState) int {
		return wallpadSend(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return wallpadAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return wallpadLog(L, e)
	}))

	L.SetGlobal("wallpad", mod)
}

const maxHandlersPerScript = 100

// wallpad.on(type, filter, callback)
func wallpadOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("family"); v != lua.LNil {
		h.family = v.String()
	}
	if v := filterTable.RawGetString("key"); v != lua.LNil {
		h.key = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// wallpad.state(key) — last observed state table, or nil
func wallpadState(L *lua.LState, e *Engine) int {
	key := L.CheckString(1)

	rec, ok := e.coord.States().Get(key)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(stateToLua(L, rec.State))
	return 1
}

// wallpad.devices() — returns a table of all tracked devices
func wallpadDevices(L *lua.LState, e *Engine) int {
	names := make(map[string]string)
	if devs, err := e.coord.Store().ListDevices(); err == nil {
		for _, d := range devs {
			if d.Name != "" {
				names[d.Key] = d.Name
			}
		}
	}

	tbl := L.NewTable()
	for i, rec := range e.coord.States().List() {
		d := L.NewTable()
		d.RawSetString("key", lua.LString(rec.Key))
		d.RawSetString("family", lua.LString(string(rec.Family)))
		if name := names[rec.Key]; name != "" {
			d.RawSetString("name", lua.LString(name))
		}
		d.RawSetString("state", stateToLua(L, rec.State))
		d.RawSetString("last_seen", lua.LString(rec.LastSeen.Format(time.RFC3339)))
		tbl.RawSetInt(i+1, d)
	}

	L.Push(tbl)
	return 1
}

// wallpad.light(room, num, on)
func wallpadLight(L *lua.LState, e *Engine) int {
	room := L.CheckInt(1)
	num := L.CheckInt(2)
	on := L.CheckBool(3)

	if err := e.coord.SetLight(room, num, on); err != nil {
		e.logger.Error("wallpad.light", "err", err, "room", room, "num", num)
	}
	return 0
}

// wallpad.plug(room, num, on)
func wallpadPlug(L *lua.LState, e *Engine) int {
	room := L.CheckInt(1)
	num := L.CheckInt(2)
	on := L.CheckBool(3)

	if err := e.coord.SetPlug(room, num, on); err != nil {
		e.logger.Error("wallpad.plug", "err", err, "room", room, "num", num)
	}
	return 0
}

// wallpad.heat(room, on) — thermostat heat/off
func wallpadHeat(L *lua.LState, e *Engine) int {
	room := L.CheckInt(1)
	on := L.CheckBool(2)

	if err := e.coord.SetThermostatMode(room, on); err != nil {
		e.logger.Error("wallpad.heat", "err", err, "room", room)
	}
	return 0
}

// wallpad.target(room, temp) — thermostat target temperature
func wallpadTarget(L *lua.LState, e *Engine) int {
	room := L.CheckInt(1)
	temp := L.CheckInt(2)

	if err := e.coord.SetThermostatTarget(room, temp); err != nil {
		e.logger.Error("wallpad.target", "err", err, "room", room, "temp", temp)
	}
	return 0
}

// wallpad.away(room, away)
func wallpadAway(L *lua.LState, e *Engine) int {
	room := L.CheckInt(1)
	away := L.CheckBool(2)

	if err := e.coord.SetThermostatAway(room, away); err != nil {
		e.logger.Error("wallpad.away", "err", err, "room", room)
	}
	return 0
}

// wallpad.fan(on)
func wallpadFan(L *lua.LState, e *Engine) int {
	on := L.CheckBool(1)

	if err := e.coord.SetFanPower(on); err != nil {
		e.logger.Error("wallpad.fan", "err", err)
	}
	return 0
}

// wallpad.fan_speed(speed) — 1..3
func wallpadFanSpeed(L *lua.LState, e *Engine) int {
	speed := L.CheckInt(1)

	if err := e.coord.SetFanSpeed(speed); err != nil {
		e.logger.Error("wallpad.fan_speed", "err", err, "speed", speed)
	}
	return 0
}

// wallpad.fan_preset(preset) — "bypass" or "heat"
func wallpadFanPreset(L *lua.LState, e *Engine) int {
	preset := L.CheckString(1)

	if err := e.coord.SetFanPreset(preset); err != nil {
		e.logger.Error("wallpad.fan_preset", "err", err, "preset", preset)
	}
	return 0
}

// wallpad.close_gas()
func wallpadCloseGas(L *lua.LState, e *Engine) int {
	if err := e.coord.CloseGasValve(); err != nil {
		e.logger.Error("wallpad.close_gas", "err", err)
	}
	return 0
}

// wallpad.call_elevator()
func wallpadCallElevator(L *lua.LState, e *Engine) int {
	if err := e.coord.CallElevator(); err != nil {
		e.logger.Error("wallpad.call_elevator", "err", err)
	}
	return 0
}

// wallpad.doorbell(action) — "ring", "talk", "open" or "cancel"
func wallpadDoorbell(L *lua.LState, e *Engine) int {
	action := L.CheckString(1)

	if err := e.coord.Doorbell(action); err != nil {
		e.logger.Error("wallpad.doorbell", "err", err, "action", action)
	}
	return 0
}

// wallpad.send(hex) — raw frame, checksums appended
func wallpadSend(L *lua.LState, e *Engine) int {
	hex := L.CheckString(1)

	if err := e.coord.SendRaw(hex); err != nil {
		e.logger.Error("wallpad.send", "err", err)
	}
	return 0
}

// wallpad.after(seconds, callback) — delayed execution
func wallpadAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		// Send callback execution to the VM's command channel
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// wallpad.log(msg)
func wallpadLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}
