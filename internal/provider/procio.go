package provider

import "github.com/shirou/gopsutil/v4/process"

type ioCounters struct {
	read, write uint64
}

// ioTracker accumulates storage I/O of a changing process tree. Processes
// that exit keep contributing their last observed counters.
type ioTracker struct {
	base map[int32]ioCounters
	last map[int32]ioCounters
}

func newIOTracker() *ioTracker {
	return &ioTracker{
		base: make(map[int32]ioCounters),
		last: make(map[int32]ioCounters),
	}
}

// observe records the counters of tree. With initial set, the counters become
// the baseline; processes first seen later start from zero.
func (t *ioTracker) observe(tree []*process.Process, initial bool) {
	for _, proc := range tree {
		read, write, found := readProcIO(proc.Pid)
		if !found {
			continue
		}
		t.record(proc.Pid, ioCounters{read, write}, initial)
	}
}

func (t *ioTracker) record(pid int32, c ioCounters, initial bool) {
	if _, known := t.base[pid]; !known {
		if initial {
			t.base[pid] = c
		} else {
			t.base[pid] = ioCounters{}
		}
	}
	t.last[pid] = c
}

// total returns the bytes read and written since the baseline and whether
// any process could be read at all.
func (t *ioTracker) total() (read, write uint64, seen bool) {
	for pid, last := range t.last {
		base := t.base[pid]
		if last.read > base.read {
			read += last.read - base.read
		}
		if last.write > base.write {
			write += last.write - base.write
		}
	}
	return read, write, len(t.last) > 0
}
