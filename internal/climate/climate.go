// Package climate translates between the climate modes a device reports
// and the HVAC modes Gray Logic exposes.
//
// Devices report numeric mode and action codes. Several device modes can
// collapse into one HVAC mode, so the reverse table names the device mode
// used when an HVAC mode is requested.
package climate

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownMode is returned when a mode or action has no translation.
var ErrUnknownMode = errors.New("climate: unknown mode")

// Mode is a device climate mode code.
type Mode int

// Device climate modes.
const (
	ModeOff Mode = iota
	ModeHeatCool
	ModeCool
	ModeHeat
	ModeFanOnly
	ModeDry
	ModeAuto
)

// Action is a device climate action code.
type Action int

// Device climate actions. 1 is unused.
const (
	ActionOff     Action = 0
	ActionCooling Action = 2
	ActionHeating Action = 3
	ActionIdle    Action = 4
	ActionDrying  Action = 5
	ActionFan     Action = 6
)

// HVACMode is the mode exposed to the rest of the system.
type HVACMode string

// HVAC modes.
const (
	HVACOff      HVACMode = "off"
	HVACHeat     HVACMode = "heat"
	HVACCool     HVACMode = "cool"
	HVACHeatCool HVACMode = "heat_cool"
	HVACAuto     HVACMode = "auto"
	HVACDry      HVACMode = "dry"
	HVACFanOnly  HVACMode = "fan_only"
)

// HVACAction is what the unit is currently doing.
type HVACAction string

// HVAC actions.
const (
	HVACActionOff     HVACAction = "off"
	HVACActionHeating HVACAction = "heating"
	HVACActionCooling HVACAction = "cooling"
	HVACActionDrying  HVACAction = "drying"
	HVACActionIdle    HVACAction = "idle"
	HVACActionFan     HVACAction = "fan"
)

var modeToHVAC = map[Mode]HVACMode{
	ModeOff:      HVACOff,
	ModeHeatCool: HVACHeatCool,
	ModeCool:     HVACCool,
	ModeHeat:     HVACHeat,
	ModeFanOnly:  HVACFanOnly,
	ModeDry:      HVACDry,
	ModeAuto:     HVACAuto,
}

var hvacToMode = map[HVACMode]Mode{
	HVACOff:      ModeOff,
	HVACHeatCool: ModeHeatCool,
	HVACCool:     ModeCool,
	HVACHeat:     ModeHeat,
	HVACFanOnly:  ModeFanOnly,
	HVACDry:      ModeDry,
	HVACAuto:     ModeAuto,
}

var actionToHVAC = map[Action]HVACAction{
	ActionOff:     HVACActionOff,
	ActionCooling: HVACActionCooling,
	ActionHeating: HVACActionHeating,
	ActionIdle:    HVACActionIdle,
	ActionDrying:  HVACActionDrying,
	ActionFan:     HVACActionFan,
}

// ToHVACMode translates a device mode.
func ToHVACMode(m Mode) (HVACMode, error) {
	h, ok := modeToHVAC[m]
	if !ok {
		return "", fmt.Errorf("%w: device mode %d", ErrUnknownMode, m)
	}
	return h, nil
}

// FromHVACMode returns the device mode to request for an HVAC mode.
func FromHVACMode(h HVACMode) (Mode, error) {
	m, ok := hvacToMode[h]
	if !ok {
		return 0, fmt.Errorf("%w: hvac mode %q", ErrUnknownMode, h)
	}
	return m, nil
}

// ToHVACAction translates a device action.
func ToHVACAction(a Action) (HVACAction, error) {
	h, ok := actionToHVAC[a]
	if !ok {
		return "", fmt.Errorf("%w: device action %d", ErrUnknownMode, a)
	}
	return h, nil
}

// SupportedModes translates the modes a device advertises. HVACOff is
// always included since every unit can be switched off. Unknown codes are
// skipped and duplicates collapse.
func SupportedModes(modes []Mode) []HVACMode {
	out := make([]HVACMode, 0, len(modes)+1)
	seen := make(map[HVACMode]bool, len(modes)+1)
	for _, m := range modes {
		h, ok := modeToHVAC[m]
		if !ok || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	if !seen[HVACOff] {
		out = append(out, HVACOff)
	}
	return out
}

// Translate returns a copy of a device climate state value with the
// hvac_mode and hvac_action keys added. The "mode" and "action" keys hold
// the device codes; decoded JSON numbers are accepted. Missing or unknown
// codes leave the corresponding key unset.
func Translate(value map[string]any) map[string]any {
	out := make(map[string]any, len(value)+2)
	for k, v := range value {
		out[k] = v
	}
	if code, ok := intValue(value["mode"]); ok {
		if h, err := ToHVACMode(Mode(code)); err == nil {
			out["hvac_mode"] = string(h)
		}
	}
	if code, ok := intValue(value["action"]); ok {
		if h, err := ToHVACAction(Action(code)); err == nil {
			out["hvac_action"] = string(h)
		}
	}
	return out
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
