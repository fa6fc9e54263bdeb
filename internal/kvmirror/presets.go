package kvmirror

import (
	"fmt"
	"strconv"
)

// ErrPresetNotFound is returned by FindPreset when no sibling name/position
// pair matches — distinct from "found value zero".
var ErrPresetNotFound = fmt.Errorf("kvmirror: preset not found")

// FindPreset scans `<motor>.presets.<n>.name` / `.position` pairs for the
// first index whose name matches preset, returning its position.
func (m *Mirror) FindPreset(motor, preset string) (float64, error) {
	for i := 0; ; i++ {
		nameKey := fmt.Sprintf("%s.presets.%d.name", motor, i)
		name, ok := m.peek(nameKey)
		if !ok {
			return 0, ErrPresetNotFound
		}
		if name == preset {
			pos, err := m.GetDouble(fmt.Sprintf("%s.presets.%d.position", motor, i))
			if err != nil {
				return 0, fmt.Errorf("kvmirror: preset %s/%s has invalid position: %w", motor, preset, err)
			}
			return pos, nil
		}
	}
}

// SetPreset writes both the name and position fields for preset, creating a
// new index if none already matches that name.
func (m *Mirror) SetPreset(motor, preset string, position float64) error {
	idx := -1
	for i := 0; ; i++ {
		nameKey := fmt.Sprintf("%s.presets.%d.name", motor, i)
		name, ok := m.peek(nameKey)
		if !ok {
			idx = i
			break
		}
		if name == preset {
			idx = i
			break
		}
	}
	if err := m.SetStr(fmt.Sprintf("%s.presets.%d.name", motor, idx), preset); err != nil {
		return err
	}
	return m.SetStr(fmt.Sprintf("%s.presets.%d.position", motor, idx), strconv.FormatFloat(position, 'f', -1, 64))
}

// peek returns the raw value for name without blocking indefinitely on a
// never-created remote key: it only reports "found" once the underlying
// HGET has resolved, and treats an empty result as "not present" so
// preset-index scans terminate.
func (m *Mirror) peek(name string) (string, bool) {
	obj := m.GetObj(m.fqKey(name))
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.value == "" {
		return "", false
	}
	return obj.value, true
}
