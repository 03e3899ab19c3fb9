package model

// QueryRequest asks the agent for a fresh read of the node's memory
// availability. Every request triggers one read of the source file;
// nothing is cached between requests.
type QueryRequest struct {
	IncludeHugePages  bool `json:"include_huge_pages"`
	IncludeHypervisor bool `json:"include_hypervisor"`
}

// MemoryReport is the answer to a QueryRequest. All sizes are in
// kibibytes, exactly as the kernel reports them.
type MemoryReport struct {
	NodeID          string `json:"node_id"`
	Hostname        string `json:"hostname"`
	TimestampUnix   int64  `json:"timestamp_unix"`
	AvailableKB     int64  `json:"available_kb"`
	FreeSwapKB      int64  `json:"free_swap_kb"`
	HugePagesFreeKB int64  `json:"hugepages_free_kb"`
	HugePages       bool   `json:"hugepages_included"`

	// TotalAllocatableKB sums available RAM, free swap, and free huge
	// pages into the single headroom figure scheduler callers want.
	TotalAllocatableKB int64 `json:"total_allocatable_kb"`

	Hypervisor *HypervisorMemory `json:"hypervisor,omitempty"`
}

// HypervisorMemory carries the libvirt node view of the same host,
// attached when the agent is connected to a hypervisor. Values are in
// kibibytes as libvirt reports them.
type HypervisorMemory struct {
	TotalKB   int64 `json:"total_kb"`
	FreeKB    int64 `json:"free_kb"`
	BuffersKB int64 `json:"buffers_kb"`
	CachedKB  int64 `json:"cached_kb"`
	UsedKB    int64 `json:"used_kb"`
}
