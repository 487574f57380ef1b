package dome

import (
	"context"

	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/pkg/errors"
)

// handleDoChksum implements dome_dochksum (D): starts an external
// checksum job on a pfn via the TaskExec-backed Runner.
func handleDoChksum(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	pfn := env.StringField("pfn")
	checksumType := env.StringField("checksumtype")
	key, err := s.ChksumRunner.Start(ctx, s.HostServer, pfn, checksumType, env.StringField("lfn"), sec.ClientDN)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"taskkey": key}, nil
}

// handleChksum implements dome_chksum (H, GET): serves a cached
// checksum or admits the job onto the checksum queue.
func handleChksum(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	rfn := env.StringField("rfn")
	checksumType := env.StringField("checksumtype")
	priority := int(env.Int64Field("priority"))

	value, pending, err := s.ChksumOrch.Request(ctx, rfn, checksumType, priority)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"checksumtype": checksumType, "checksum": value, "pending": pending}, nil
}

// handleChksumStatus implements dome_chksumstatus (H, POST): the
// disk-to-head callback reporting a checksum job's outcome.
func handleChksumStatus(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	rfn := env.StringField("rfn")
	checksumType := env.StringField("checksumtype")
	value := env.StringField("checksum")

	var jobErr error
	if msg := env.StringField("error"); msg != "" {
		jobErr = errors.New(errors.CodeInternal, msg).WithComponent("dome").WithOperation("chksumStatus")
	}

	if err := s.ChksumOrch.Status(ctx, rfn, checksumType, value, jobErr); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "ok"}, nil
}
