package dome

import (
	"context"
	"net/http"

	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/security"
	"github.com/griddome/domed/pkg/errors"
)

// handleDoPull implements dome_pull (D): starts an external fetch of an
// LFN into a pfn via the TaskExec-backed Runner.
func handleDoPull(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	lfn := env.StringField("lfn")
	pfn := env.StringField("pfn")
	neededSpace := env.Int64Field("neededspace")

	key, err := s.PullRunner.Start(ctx, s.HostServer, lfn, pfn, neededSpace, sec.ClientDN)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"taskkey": key}, nil
}

// handlePullStatus implements dome_pullstatus (H): the disk-to-head
// progress/result callback of a pull.
func handlePullStatus(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	rfn := env.StringField("rfn")
	size := env.Int64Field("size")
	mode := env.Int64Field("mode")

	var jobErr error
	if msg := env.StringField("error"); msg != "" {
		jobErr = errors.New(errors.CodeInternal, msg).WithComponent("dome").WithOperation("pullStatus")
	}

	if err := s.PullOrch.Status(ctx, rfn, size, mode, jobErr); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "ok"}, nil
}

// handleGet implements dome_get (H, GET): returns available replicas
// for an LFN, or stages and enqueues a pull if none exist but a
// Volatile filesystem can host one.
func handleGet(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	lfn := env.StringField("lfn")
	priority := int(env.Int64Field("priority"))

	rfn, pending, err := s.PullOrch.Request(ctx, lfn, priority)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{"rfn": rfn, "pending": pending}
	if pending {
		body[statusOverrideKey] = http.StatusAccepted
	}
	return body, nil
}
