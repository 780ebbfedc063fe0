package embeddings

import (
	"fmt"
	"strconv"
	"strings"
)

// CPU is the device string selecting host execution.
const CPU = "cpu"

// DeviceSpec is an explicit placement: either the host CPU or an ordered
// list of accelerator indices whose first entry is the primary device.
type DeviceSpec struct {
	ids []int
}

// CPUDevice returns the host placement.
func CPUDevice() DeviceSpec {
	return DeviceSpec{}
}

// GPUDevices returns a placement across the given accelerator indices.
func GPUDevices(ids ...int) DeviceSpec {
	return DeviceSpec{ids: append([]int(nil), ids...)}
}

// ParseDevices parses "cpu" or a comma separated list such as "0,1,3".
func ParseDevices(s string) (DeviceSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, CPU) {
		return CPUDevice(), nil
	}

	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	seen := make(map[int]bool, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || id < 0 {
			return DeviceSpec{}, fmt.Errorf("%w: %q", ErrInvalidDevice, s)
		}
		if seen[id] {
			return DeviceSpec{}, fmt.Errorf("%w: duplicate device %d in %q", ErrInvalidDevice, id, s)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return DeviceSpec{ids: ids}, nil
}

// IsCPU reports whether this placement runs on the host.
func (d DeviceSpec) IsCPU() bool {
	return len(d.ids) == 0
}

// Primary returns the parameter-hosting device index, or -1 on CPU.
func (d DeviceSpec) Primary() int {
	if d.IsCPU() {
		return -1
	}
	return d.ids[0]
}

// IDs returns a copy of the accelerator indices.
func (d DeviceSpec) IDs() []int {
	return append([]int(nil), d.ids...)
}

// Count is the number of replicas a batch is spread across. CPU counts as one.
func (d DeviceSpec) Count() int {
	if d.IsCPU() {
		return 1
	}
	return len(d.ids)
}

// First narrows the placement to its primary device.
func (d DeviceSpec) First() DeviceSpec {
	if d.IsCPU() {
		return d
	}
	return DeviceSpec{ids: []int{d.ids[0]}}
}

func (d DeviceSpec) String() string {
	if d.IsCPU() {
		return CPU
	}
	parts := make([]string, len(d.ids))
	for i, id := range d.ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
