package dome

import (
	"context"
	"os"

	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/placement"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/pkg/errors"
)

// handlePut implements dome_put (H): negotiates write placement and
// stages a BeingPopulated replica (§4.6).
func handlePut(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	req := &placement.PutRequest{
		LFN: env.StringField("lfn"),
		Pool: env.StringField("pool"),
		Host: env.StringField("host"),
		Filesystem: env.StringField("filesystem"),
		UID: sec.UID,
		GID: firstGID(sec.GIDs),
		GIDs: sec.GIDs,
		AdditionalReplica: env.StringField("additionalreplica") == "true",
	}

	res, err := s.Placement.Pick(ctx, req)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"pool": res.Server,
		"host": res.Server,
		"filesystem": res.PFN,
		"pfn": res.PFN,
		"rfn": res.RFN,
		"quotatoken": res.QuotaToken,
	}, nil
}

func firstGID(gids []uint32) uint32 {
	if len(gids) == 0 {
		return 0
	}
	return gids[0]
}

// handlePutDone implements dome_putdone (D then H, §4.6). On a disk
// node it stats the local pfn, validates the caller-reported size
// against it, and forwards the validated fields to the head; on the
// head it finalizes the replica via the Finalizer.
func handlePutDone(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	pfn := env.StringField("pfn")
	reportedSize := env.Int64Field("size")
	checksumType := env.StringField("checksumtype")
	checksumValue := env.StringField("checksumvalue")
	rfn := env.StringField("rfn")

	if !s.IsHead {
		if pfn == "" {
			return nil, errors.New(errors.CodeBadRequest, "putdone requires a pfn").
				WithComponent("dome").WithOperation("putDone")
		}
		info, statErr := os.Stat(pfn)
		if statErr == nil && reportedSize != 0 && info.Size() != 0 && info.Size() != reportedSize {
			return nil, errors.New(errors.CodeValidationFailed, "reported size does not match on-disk size").
				WithComponent("dome").WithOperation("putDone").
				WithDetail("reported", reportedSize).WithDetail("actual", info.Size())
		}
		if statErr == nil {
			reportedSize = info.Size()
		}
		return map[string]interface{}{
			"server": s.HostServer,
			"size": reportedSize,
			"checksumtype": checksumType,
			"checksumvalue": checksumValue,
			"forwarded": true,
		}, nil
	}

	if err := s.Finalizer.PutDone(ctx, rfn, reportedSize, checksumType, checksumValue, s.SizeProber); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "Available"}, nil
}
