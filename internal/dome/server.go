// Package dome implements the dome request dispatcher (DR): the full
// verb table fronting the head and disk node roles, built on top of
// the already-assembled relational, status, placement, checksum and
// pull components.
package dome

import (
	"context"
	"encoding/json"
	"net/http"

	"time"

	"github.com/griddome/domed/internal/checksum"
	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/gpq"
	"github.com/griddome/domed/internal/metrics"
	"github.com/griddome/domed/internal/ocp"
	"github.com/griddome/domed/internal/placement"
	"github.com/griddome/domed/internal/pull"
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/internal/status"
	"github.com/griddome/domed/internal/taskexec"
	"github.com/griddome/domed/pkg/errors"
)

// handler is one verb's implementation: given the request envelope and
// the caller's resolved security context, it returns the body to
// serialize and an error (nil on success).
type handler func(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error)

// route is one (verb, cmd) table entry.
type route struct {
	verb string
	cmd string
	fn handler
}

// Server wires every DR verb to the components an earlier pass already
// built: RA adapters, ST, PP, the checksum/pull orchestrators, the task
// executor (disk role) and the outbound client pool. Only the fields
// relevant to the process's configured role are non-nil.
type Server struct {
	IsHead bool
	HostServer string // this node's own server identity (for disk-side pfn checks)

	Namespace *rdb.Namespace
	Replicas *rdb.ReplicaAdapter
	Pools *rdb.PoolAdapter
	Filesystems *rdb.FilesystemAdapter
	Quota *rdb.QuotaAdapter
	Users *rdb.UserAdapter
	Groups *rdb.GroupAdapter

	Status *status.Status
	Placement *placement.Engine
	Finalizer *placement.Finalizer
	SizeProber placement.SizeProber

	ChksumOrch *checksum.Orchestrator
	PullOrch *pull.Orchestrator
	ChksumRunner *checksum.Runner
	PullRunner *pull.Runner
	TaskExec *taskexec.Executor

	ChksumQueue *gpq.Queue
	PullQueue *gpq.Queue

	Auth *dispatch.Authorizer
	OCP *ocp.Pool

	// Metrics is optional: left nil when glb.metrics.enabled is false,
	// in which case ServeHTTP skips recording rather than calling into it.
	Metrics *metrics.Collector

	routes map[string]route
}

func routeKey(verb, cmd string) string { return verb + " " + cmd }

// Register builds the verb table. Called once after every field above
// is populated for this process's role.
func (s *Server) Register() {
	s.routes = map[string]route{}
	add := func(verb, cmd string, fn handler) {
		s.routes[routeKey(verb, cmd)] = route{verb: verb, cmd: cmd, fn: fn}
	}

	add(http.MethodGet, "dome_info", handleInfo)

	add(http.MethodPost, "dome_put", handlePut)
	add(http.MethodPost, "dome_putdone", handlePutDone)

	add(http.MethodPost, "dome_dochksum", handleDoChksum)
	add(http.MethodGet, "dome_chksum", handleChksum)
	add(http.MethodPost, "dome_chksumstatus", handleChksumStatus)

	add(http.MethodPost, "dome_pull", handleDoPull)
	add(http.MethodPost, "dome_pullstatus", handlePullStatus)
	add(http.MethodGet, "dome_get", handleGet)

	add(http.MethodPost, "dome_delreplica", handleDelReplica)
	add(http.MethodPost, "dome_pfnrm", handlePfnRm)
	add(http.MethodGet, "dome_getreplicainfo", handleGetReplicaInfo)
	add(http.MethodGet, "dome_access", handleAccess)
	add(http.MethodGet, "dome_accessreplica", handleAccessReplica)

	add(http.MethodPost, "dome_addpool", handleAddPool)
	add(http.MethodPost, "dome_modifypool", handleModifyPool)
	add(http.MethodPost, "dome_rmpool", handleRmPool)
	add(http.MethodPost, "dome_addfstopool", handleAddFSToPool)
	add(http.MethodPost, "dome_modifyfs", handleModifyFS)
	add(http.MethodPost, "dome_rmfs", handleRmFS)

	add(http.MethodGet, "dome_getspaceinfo", handleGetSpaceInfo)
	add(http.MethodGet, "dome_statpool", handleStatPool)
	add(http.MethodGet, "dome_getdirspaces", handleGetDirSpaces)
	add(http.MethodGet, "dome_statpfn", handleStatPfn)
	add(http.MethodPost, "dome_makespace", handleMakeSpace)

	add(http.MethodPost, "dome_setquotatoken", handleSetQuotaToken)
	add(http.MethodPost, "dome_modquotatoken", handleModQuotaToken)
	add(http.MethodPost, "dome_delquotatoken", handleDelQuotaToken)
	add(http.MethodGet, "dome_getquotatoken", handleGetQuotaToken)

	add(http.MethodGet, "dome_getuser", handleGetUser)
	add(http.MethodPost, "dome_newuser", handleNewUser)
	add(http.MethodPost, "dome_deleteuser", handleDeleteUser)
	add(http.MethodPost, "dome_updateuser", handleUpdateUser)
	add(http.MethodGet, "dome_getusersvec", handleGetUsersVec)
	add(http.MethodGet, "dome_getgroup", handleGetGroup)
	add(http.MethodPost, "dome_newgroup", handleNewGroup)
	add(http.MethodPost, "dome_deletegroup", handleDeleteGroup)
	add(http.MethodPost, "dome_updategroup", handleUpdateGroup)
	add(http.MethodGet, "dome_getgroupsvec", handleGetGroupsVec)
	add(http.MethodGet, "dome_getidmap", handleGetIDMap)

	add(http.MethodPost, "dome_makedir", handleMakeDir)
	add(http.MethodPost, "dome_removedir", handleRemoveDir)
	add(http.MethodPost, "dome_create", handleCreate)
	add(http.MethodPost, "dome_unlink", handleUnlink)
	add(http.MethodPost, "dome_rename", handleRename)
	add(http.MethodGet, "dome_readlink", handleReadLink)
	add(http.MethodPost, "dome_symlink", handleSymlink)
	add(http.MethodPost, "dome_setacl", handleSetACL)
	add(http.MethodPost, "dome_setmode", handleSetMode)
	add(http.MethodPost, "dome_setowner", handleSetOwner)
	add(http.MethodPost, "dome_setsize", handleSetSize)
	add(http.MethodPost, "dome_updatexattr", handleUpdateXattr)
	add(http.MethodPost, "dome_setcomment", handleSetComment)
	add(http.MethodGet, "dome_getcomment", handleGetComment)
	add(http.MethodGet, "dome_getstatinfo", handleGetStatInfo)
	add(http.MethodGet, "dome_getdir", handleGetDir)
}

// ServeHTTP implements the DR's dispatch step (§4.1): decode the
// envelope, authorize the caller (except dome_info, which always
// runs), look the verb up in the two-level (verb,cmd) table, and write
// a JSON response carrying the handler's HTTP status.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	env, err := dispatch.ParseEnvelope(r)
	if err != nil {
		writeError(w, errors.New(errors.CodeBadRequest, "malformed request body"))
		return
	}

	if env.Verb == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	sec, authorized := s.Auth.Authorize(r.Context(), env)
	if !authorized && env.Cmd != "dome_info" {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"error": "access denied"})
		return
	}
	if sec != nil && sec.Banned {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"error": "user is banned"})
		return
	}

	rt, ok := s.routes[routeKey(env.Verb, env.Cmd)]
	if !ok {
		writeJSON(w, http.StatusTeapot, map[string]interface{}{"error": "unknown command: " + env.Cmd})
		return
	}

	started := time.Now()
	body, err := rt.fn(r.Context(), s, env, sec)
	if s.Metrics != nil {
		s.Metrics.RecordOperation(env.Cmd, time.Since(started), 0, err == nil)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if v, ok := body[statusOverrideKey]; ok {
		if code, ok := v.(int); ok {
			status = code
		}
		delete(body, statusOverrideKey)
	}
	writeJSON(w, status, body)
}

// statusOverrideKey lets a handler request a non-200 success status
// (e.g. 202 Accepted for an enqueued-but-not-yet-available pull) without
// widening every handler's return signature.
const statusOverrideKey = "_status"

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	de, ok := err.(*errors.DomedError)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, de.HTTPStatus, map[string]interface{}{"error": de.Message, "code": string(de.Code)})
}
