package upstream

import (
	"time"

	"github.com/chilla55/backup-dashboard/timefmt"
)

// Timestamp-bearing fields are kept as the raw decoded JSON value
// (json.Number, string or nil) and only interpreted through timefmt.

// Company is one entry of GET /api/companies.
type Company struct {
	CompanyName   string                `json:"company_name"`
	CompanyKey    string                `json:"company_key"`
	LastUpdate    any                   `json:"last_update"`
	LastUpdateStr string                `json:"last_update_str"`
	Stats24h      Stats24h              `json:"stats_24h"`
	Recent        []Backup              `json:"recent"`
	Health        map[string]HostHealth `json:"health"`
	Replication   Replication           `json:"replication"`
}

// Key returns the name used to address the company's detail endpoint.
func (c Company) Key() string {
	if c.CompanyKey != "" {
		return c.CompanyKey
	}
	return c.CompanyName
}

// LastBackup returns the newest backup in Recent, if any.
func (c Company) LastBackup() (Backup, bool) {
	if len(c.Recent) == 0 {
		return Backup{}, false
	}
	return c.Recent[0], true
}

// LastBackupFailed reports whether the newest backup did not succeed.
func (c Company) LastBackupFailed() bool {
	b, ok := c.LastBackup()
	return ok && !b.Succeeded()
}

// Stale reports whether no backup finished within after of now.
// A company without a last_update epoch is always stale.
func (c Company) Stale(n *timefmt.Normalizer, now time.Time, after time.Duration) bool {
	last := n.Parse(c.LastUpdate)
	if !last.Valid() {
		return true
	}
	return now.Sub(last.Time()) > after
}

// Stats24h counts backups that ended in the last 24 hours.
type Stats24h struct {
	OK    int `json:"ok"`
	Fail  int `json:"fail"`
	Total int `json:"total"`
}

// Backup is a single vzdump run as reported by a Proxmox host.
type Backup struct {
	ID               any      `json:"id"`
	ProxmoxHost      string   `json:"proxmox_host"`
	CompanyName      string   `json:"company_name"`
	VMID             any      `json:"vmid"`
	VMName           string   `json:"vm_name"`
	Status           string   `json:"status"`
	StorageTarget    string   `json:"storage_target"`
	StartTime        any      `json:"start_time"`
	EndTime          any      `json:"end_time"`
	TotalSizeBytes   *float64 `json:"total_size_bytes"`
	WrittenSizeBytes *float64 `json:"written_size_bytes"`
	DurationSeconds  *float64 `json:"duration_seconds"`
	SpeedMBs         *float64 `json:"speed_mb_s"`
	ReceivedAt       any      `json:"received_at"`
}

// Succeeded reports whether the run finished with SUCCESS.
func (b Backup) Succeeded() bool {
	return b.Status == StatusSuccess
}

// HostHealth is the latest storage health report of one host.
type HostHealth struct {
	ReceivedAt any    `json:"received_at"`
	Pools      []Pool `json:"pools"`
	Disks      []Disk `json:"disks"`
}

// Pool is a ZFS (or similar) pool state.
type Pool struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Disk is a SMART summary for one device.
type Disk struct {
	Name    string   `json:"name"`
	SmartOK *bool    `json:"smart_ok"`
	Temp    *float64 `json:"temp"`
}

// Replication summarizes the latest run of each replication job.
type Replication struct {
	OK          int              `json:"ok"`
	Fail        int              `json:"fail"`
	LastSync    any              `json:"last_sync"`
	LastSyncStr string           `json:"last_sync_str"`
	Jobs        []ReplicationJob `json:"jobs"`
}

// ReplicationJob is the latest state of a pvesr job.
type ReplicationJob struct {
	VMID        any      `json:"vmid"`
	VMName      string   `json:"vm_name"`
	SourceNode  string   `json:"source_node"`
	TargetNode  string   `json:"target_node"`
	State       string   `json:"state"`
	Status      string   `json:"status"`
	LastSync    any      `json:"last_sync"`
	LastSyncStr string   `json:"last_sync_str"`
	DurationSec *float64 `json:"duration_sec"`
	FailCount   *int     `json:"fail_count"`
	Schedule    string   `json:"schedule"`
}

// RecentPage is the response of GET /api/company/{name}/recent.
type RecentPage struct {
	Backups    []Backup   `json:"backups"`
	Pagination Pagination `json:"pagination"`
}

// Pagination describes one page of a company's backup history.
type Pagination struct {
	TotalItems  int `json:"total_items"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

// StatusSuccess is the only status treated as a good backup or replication.
const StatusSuccess = "SUCCESS"
