package pull

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/griddome/domed/internal/ocp"
	"github.com/griddome/domed/pkg/errors"
	"github.com/griddome/domed/pkg/recovery"
)

// OCPReporter reports a disk node's pull job outcome to its head node
// over the outbound client pool, implementing dome_pullstatus as a
// client.
type OCPReporter struct {
	pool       *ocp.Pool
	headServer string
	recovery   *recovery.RecoveryManager
}

// NewOCPReporter constructs an OCPReporter. headServer is this disk
// node's configured head node (disk.headnode.domeurl's host:port). rm
// is optional: if nil, a job outcome is POSTed once with no retry; if
// set, a transient failure reporting the outcome is retried rather
// than leaving the job stuck pending on the head.
func NewOCPReporter(pool *ocp.Pool, headServer string, rm *recovery.RecoveryManager) *OCPReporter {
	return &OCPReporter{pool: pool, headServer: headServer, recovery: rm}
}

// PullStatus POSTs the job's outcome to dome_pullstatus.
func (r *OCPReporter) PullStatus(ctx context.Context, rfn string, size, mode int64, jobErr error) error {
	post := func() error { return r.postPullStatus(ctx, rfn, size, mode, jobErr) }
	if r.recovery == nil {
		return post()
	}
	return r.recovery.Execute(ctx, "pull-report", "pullStatus", post)
}

func (r *OCPReporter) postPullStatus(ctx context.Context, rfn string, size, mode int64, jobErr error) error {
	body := map[string]interface{}{"rfn": rfn}
	if jobErr != nil {
		body["error"] = jobErr.Error()
	} else {
		body["size"] = size
		body["mode"] = mode
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s/domehead/dome_pullstatus", r.headServer)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.pool.Do(ctx, r.headServer, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.CodeConnectionFailed, fmt.Sprintf("dome_pullstatus returned status %d", resp.StatusCode)).
			WithComponent("pull").WithOperation("pullStatus")
	}
	return nil
}

// OCPDispatcher issues a head node's dome_pull call to the disk server
// staged to fetch the file, implementing Dispatcher as a client.
type OCPDispatcher struct {
	pool *ocp.Pool
}

// NewOCPDispatcher constructs an OCPDispatcher.
func NewOCPDispatcher(pool *ocp.Pool) *OCPDispatcher {
	return &OCPDispatcher{pool: pool}
}

// DoPull POSTs to server's dome_pull, starting the background fetch.
func (d *OCPDispatcher) DoPull(ctx context.Context, server, lfn, pfn string, neededSpace int64) error {
	body := map[string]interface{}{"lfn": lfn, "pfn": pfn, "neededspace": neededSpace}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s/domedisk/dome_pull", server)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.pool.Do(ctx, server, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.CodeConnectionFailed, fmt.Sprintf("dome_pull returned status %d", resp.StatusCode)).
			WithComponent("pull").WithOperation("doPull")
	}
	return nil
}
