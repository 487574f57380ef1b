package dome

import (
	"context"

	"github.com/griddome/domed/internal/dispatch"
	"github.com/griddome/domed/internal/security"
)

// handleInfo implements dome_info: liveness and role information,
// always runs even for an unauthorized caller (§4.1, §4.9).
func handleInfo(ctx context.Context, s *Server, env *dispatch.Envelope, sec *security.SecurityContext) (map[string]interface{}, error) {
	role := "disk"
	if s.IsHead {
		role = "head"
	}
	body := map[string]interface{}{
		"role": role,
		"server": s.HostServer,
	}
	if sec == nil {
		body["authorized"] = false
		return body, nil
	}
	body["authorized"] = true
	body["ispeer"] = sec.IsPeer
	return body, nil
}
