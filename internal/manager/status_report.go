package manager

import (
	"time"

	"diffstudio/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		Family:         m.family.Name,
		Policy:         m.family.Policy.String(),
		QueueLen:       len(m.queueCh),
		Inflight:       len(m.genCh) - m.closedSlot(),
		MaxQueueDepth:  cap(m.queueCh),
		EvictionsTotal: m.evictionsTotal.Load(),
		LoadsTotal:     m.loadsTotal.Load(),
		LastError:      m.lastErr,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	for _, b := range m.family.Buckets() {
		s := m.slots[b]
		ss := types.SlotStatus{
			Bucket:   string(b),
			State:    string(s.state),
			Builds:   s.builds,
			EstBytes: m.family.estimate(b),
		}
		if !s.lastUsed.IsZero() {
			ss.LastUsed = s.lastUsed.Unix()
		}
		for _, t := range m.family.TasksIn(b) {
			ss.Tasks = append(ss.Tasks, t.String())
		}
		resp.Slots = append(resp.Slots, ss)
	}
	if m.pool != nil {
		resp.Device = &types.DeviceStatus{
			Name:          m.pool.Name(),
			UsedBytes:     m.pool.Used(),
			PeakBytes:     m.pool.Peak(),
			CapacityBytes: m.pool.Capacity(),
			Residents:     m.pool.Residents(),
		}
	}
	return resp
}

// Info describes the family for /families.
func (f *Family) Info() types.FamilyInfo {
	info := types.FamilyInfo{
		Name:        f.Name,
		Policy:      f.Policy.String(),
		LowVRAM:     f.LowVRAM,
		Description: f.Description,
		Buckets:     make(map[string]string),
	}
	for p := f.routes.Oldest(); p != nil; p = p.Next() {
		info.Tasks = append(info.Tasks, p.Key.String())
		info.Buckets[p.Key.String()] = string(p.Value)
	}
	return info
}

// closedSlot is 1 once Close holds the in-flight slot.
func (m *Manager) closedSlot() int {
	if m.closed.Load() {
		return 1
	}
	return 0
}
