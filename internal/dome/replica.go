package dome

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/ocp"
	"github.com/griddome/domed/internal/rdb"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/internal/status"
	"github.com/griddome/domed/pkg/errors"
)

// handleDelReplica implements dome_delreplica (H): removes a replica
// end-to-end — forwards dome_pfnrm to the owning disk, removes the
// row, propagates the directory size, and unlinks the LFN if it was
// the last replica.
func handleDelReplica(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	rfn := env.StringField("rfn")
	rep, err := s.Replicas.GetReplicaByRFN(ctx, rfn)
	if err != nil {
		return nil, err
	}

	if err := remotePfnRm(ctx, s.OCP, rep.Server, rep.PFN); err != nil {
		return nil, err
	}
	if err := s.Replicas.DelReplica(ctx, rep.ReplicaID); err != nil {
		return nil, err
	}

	remaining, err := s.Replicas.GetReplicas(ctx, rep.FileID)
	if err != nil {
		return nil, err
	}
	if len(remaining) == 0 {
		st, statErr := s.Namespace.GetStatByFileID(ctx, rep.FileID)
		if statErr == nil {
			if st.Size > 0 {
				_ = s.Namespace.AddFilesizeToDirs(ctx, rep.FileID, -st.Size, 0)
				creditQuota(ctx, s, rep.FileID, st.Size)
			}
			_ = s.Namespace.Unlink(ctx, st.ParentFileID, st.Name)
		}
	}

	return map[string]interface{}{"status": "removed"}, nil
}

// creditQuota refunds size to the quota token governing fileID's logical
// path, mirroring placement.Finalizer's debit on put completion. Best
// effort: a file outside every token's path has nothing to refund.
func creditQuota(ctx context.Context, s *Server, fileID, size int64) {
	if s.Quota == nil {
		return
	}
	lfn, err := s.Namespace.FullPath(ctx, fileID)
	if err != nil {
		return
	}
	tokens, err := s.Quota.ByPathPrefix(ctx, lfn)
	if err != nil || len(tokens) == 0 {
		return
	}
	_ = s.Quota.AddToUSpace(ctx, tokens[0].SToken, -size)
}

// remotePfnRm issues dome_pfnrm against server to unlink pfn.
func remotePfnRm(ctx context.Context, pool *ocp.Pool, server, pfn string) error {
	if pool == nil {
		return nil
	}
	body := map[string]string{"pfn": pfn}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s/domedisk/dome_pfnrm", server)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := pool.Do(ctx, server, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.CodeConnectionFailed, fmt.Sprintf("dome_pfnrm returned status %d", resp.StatusCode)).
			WithComponent("dome").WithOperation("delReplica")
	}
	return nil
}

// handlePfnRm implements dome_pfnrm (D): unlinks a physical file or
// empty directory on disk; pfn must match a known filesystem unless
// the caller explicitly opts out.
func handlePfnRm(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	pfn := env.StringField("pfn")
	if pfn == "" {
		return nil, errors.New(errors.CodeBadRequest, "pfnrm requires a pfn").
			WithComponent("dome").WithOperation("pfnrm")
	}

	requireKnownFS := env.StringField("requireknownfs") != "false"
	if requireKnownFS {
		snap := s.Status.Snapshot()
		matched := false
		if snap != nil {
			for i := range snap.Filesystems {
				if snap.Filesystems[i].Server == s.HostServer && status.PfnMatchesFS(pfn, &snap.Filesystems[i]) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return nil, errors.New(errors.CodeBadRequest, "pfn does not live under a known filesystem").
				WithComponent("dome").WithOperation("pfnrm").WithDetail("pfn", pfn)
		}
	}

	if err := os.Remove(pfn); err != nil && !os.IsNotExist(err) {
		return nil, errors.New(errors.CodeInternal, "failed to remove pfn").
			WithComponent("dome").WithOperation("pfnrm").WithCause(err)
	}
	return map[string]interface{}{"status": "removed"}, nil
}

// handleGetReplicaInfo implements dome_getreplicainfo (H, GET).
func handleGetReplicaInfo(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	rfn := env.StringField("rfn")
	rep, err := s.Replicas.GetReplicaByRFN(ctx, rfn)
	if err != nil {
		return nil, err
	}
	return replicaBody(rep), nil
}

func replicaBody(rep *rdb.Replica) map[string]interface{} {
	return map[string]interface{}{
		"replicaid": rep.ReplicaID,
		"fileid": rep.FileID,
		"rfn": rep.RFN,
		"server": rep.Server,
		"pfn": rep.PFN,
		"pool": rep.Pool,
		"filesystem": rep.Filesystem,
		"status": string(rep.Status),
		"type": string(rep.Type),
	}
}

// handleAccess implements dome_access (H, GET): POSIX mode check
// against the effective security context for a logical file.
func handleAccess(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	lfn := env.StringField("lfn")
	st, err := s.Namespace.GetStatByLFN(ctx, lfn)
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, st, accessMask(env)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"allowed": true}, nil
}

// handleAccessReplica implements dome_accessreplica (H, GET): same
// check rooted at the file owning rfn.
func handleAccessReplica(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	rfn := env.StringField("rfn")
	rep, err := s.Replicas.GetReplicaByRFN(ctx, rfn)
	if err != nil {
		return nil, err
	}
	st, err := s.Namespace.GetStatByFileID(ctx, rep.FileID)
	if err != nil {
		return nil, err
	}
	if err := security.CheckPermissionsOnStat(sec, st, accessMask(env)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"allowed": true}, nil
}

func accessMask(env *dispatch.Envelope) security.AccessMask {
	switch env.StringField("mode") {
	case "w":
		return security.MayWrite
	case "x":
		return security.MayExec
	default:
		return security.MayRead
	}
}
