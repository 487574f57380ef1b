// Package rdb is the relational adapter: typed CRUD over the namespace,
// replicas, pools, filesystems, quota tokens, users, groups and the
// checksum/pull side tables, all driven through a shared *sqlx.DB.
package rdb

// FileStatus is the namespace entry's logical status.
type FileStatus string

const (
	FileOnline FileStatus = "Online"
	FileMigrated FileStatus = "Migrated"
)

// ExtendedStat is a logical file or directory entry.
type ExtendedStat struct {
	FileID int64 `db:"fileid"`
	ParentFileID int64 `db:"parent_fileid"`
	Name string `db:"name"`
	Mode uint32 `db:"mode"`
	UID uint32 `db:"uid"`
	GID uint32 `db:"gid"`
	Size int64 `db:"size"`
	Nlink int64 `db:"nlink"`
	ATime int64 `db:"atime"`
	MTime int64 `db:"mtime"`
	CTime int64 `db:"ctime"`
	Status FileStatus `db:"status"`
	ACL string `db:"acl"`
	XAttrs map[string]string `db:"-"`
	XAttrsRaw string `db:"xattrs"`
	// CSumType/CSumValue are the legacy short checksum columns, kept for
	// interop with existing clients.
	CSumType string `db:"csumtype"`
	CSumValue string `db:"csumvalue"`
}

// IsDir reports whether the entry is a directory.
func (e *ExtendedStat) IsDir() bool {
	return e.Mode&0o040000 != 0
}

// ReplicaStatus is the replica's lifecycle state.
type ReplicaStatus string

const (
	ReplicaAvailable ReplicaStatus = "Available"
	ReplicaBeingPopulated ReplicaStatus = "BeingPopulated"
	ReplicaToBeDeleted ReplicaStatus = "ToBeDeleted"
)

// ReplicaType is the replica's accounting class.
type ReplicaType string

const (
	ReplicaVolatile ReplicaType = "Volatile"
	ReplicaPermanent ReplicaType = "Permanent"
	ReplicaLogicalOnly ReplicaType = "LogicalOnly"
)

// Replica is a physical copy of a file's contents on a disk server.
type Replica struct {
	ReplicaID int64 `db:"replicaid"`
	FileID int64 `db:"fileid"`
	RFN string `db:"rfn"`
	Server string `db:"server"`
	PFN string `db:"pfn"`
	Pool string `db:"pool"`
	Filesystem string `db:"filesystem"`
	SetName string `db:"setname"`
	Status ReplicaStatus `db:"status"`
	Type ReplicaType `db:"type"`
	AccessCount int64 `db:"access_count"`
	ATime int64 `db:"atime"`
	CTime int64 `db:"ctime"`
	MTime int64 `db:"mtime"`
	XAttrs map[string]string `db:"-"`
	XAttrsRaw string `db:"xattrs"`
}

// FSStaticStatus is the administrator-set availability of a filesystem.
type FSStaticStatus string

const (
	FSActive FSStaticStatus = "Active"
	FSDisabled FSStaticStatus = "Disabled"
	FSReadOnly FSStaticStatus = "ReadOnly"
)

// FSRuntimeStatus is the probed reachability of a filesystem; never
// persisted.
type FSRuntimeStatus string

const (
	FSUnknown FSRuntimeStatus = "Unknown"
	FSOnline FSRuntimeStatus = "Online"
	FSBroken FSRuntimeStatus = "Broken"
)

// Filesystem is a (server, fs) pair: a root directory on a disk server.
type Filesystem struct {
	Server string `db:"server"`
	FS string `db:"fs"`
	PoolName string `db:"poolname"`
	StaticStatus FSStaticStatus `db:"status"`
	FreeSpace int64 `db:"freespace"`
	PhysicalSize int64 `db:"physicalsize"`

	// RuntimeStatus is probed, not persisted.
	RuntimeStatus FSRuntimeStatus `db:"-"`
}

// IsGoodForWrite reports whether the filesystem currently accepts new
// placements.
func (f *Filesystem) IsGoodForWrite() bool {
	return f.StaticStatus == FSActive && f.RuntimeStatus == FSOnline
}

// PoolType is a pool's allocation/eviction policy.
type PoolType string

const (
	PoolPermanent PoolType = "Permanent"
	PoolVolatile PoolType = "Volatile"
)

// Pool is a named group of filesystems sharing an allocation policy.
type Pool struct {
	PoolName string `db:"poolname"`
	DefSize int64 `db:"defsize"`
	SType PoolType `db:"stype"`
	// GroupsForRead is an opaque passthrough, never enforced.
	GroupsForRead string `db:"groupsforread"`
}

// QuotaToken is a path-prefix byte allocation owned by a single pool.
type QuotaToken struct {
	SToken string `db:"s_token"`
	UToken string `db:"u_token"`
	PoolName string `db:"poolname"`
	TSpace int64 `db:"t_space"`
	Path string `db:"path"`
	GroupsForWrite []int64
	USpace int64 `db:"u_space"`
	// SUID/SGID are opaque passthrough bytes, never evaluated.
	SUID int64 `db:"s_uid"`
	SGID int64 `db:"s_gid"`
}

// User is a namespace principal, identified by its client DN.
type User struct {
	UserID int64 `db:"userid"`
	Username string `db:"username"`
	Banned bool `db:"banned"`
	XAttrs map[string]string `db:"-"`
}

// Group is a namespace principal group.
type Group struct {
	GroupID int64 `db:"groupid"`
	GroupName string `db:"groupname"`
	Banned bool `db:"banned"`
	XAttrs map[string]string `db:"-"`
}

// PendingChecksum maps a TaskExec key to the logical context of an
// outstanding checksum job.
type PendingChecksum struct {
	TaskKey int64 `db:"taskkey"`
	LFN string `db:"lfn"`
	Server string `db:"server"`
	PFN string `db:"pfn"`
	ClientDN string `db:"clientdn"`
	ChecksumType string `db:"checksumtype"`
	UpdateLFNChecksum bool `db:"updatelfnchecksum"`
	CreatedAt int64 `db:"created_at"`
}

// PendingPull maps a TaskExec key to the logical context of an outstanding
// file pull.
type PendingPull struct {
	TaskKey int64 `db:"taskkey"`
	LFN string `db:"lfn"`
	Server string `db:"server"`
	PFN string `db:"pfn"`
	ClientDN string `db:"clientdn"`
	NeededSpace int64 `db:"neededspace"`
	CreatedAt int64 `db:"created_at"`
}
