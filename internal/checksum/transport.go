package checksum

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

// OCPReporter reports a disk node's checksum job outcome to its head
// node over the outbound client pool, implementing dome_chksumstatus as
// a client.
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

// ChksumStatus POSTs the job's outcome to dome_chksumstatus.
func (r *OCPReporter) ChksumStatus(ctx context.Context, rfn, checksumType, value string, jobErr error) error {
	post := func() error { return r.postChksumStatus(ctx, rfn, checksumType, value, jobErr) }
	if r.recovery == nil {
		return post()
	}
	return r.recovery.Execute(ctx, "checksum-report", "chksumStatus", post)
}

func (r *OCPReporter) postChksumStatus(ctx context.Context, rfn, checksumType, value string, jobErr error) error {
	body := map[string]string{"rfn": rfn, "checksumtype": checksumType}
	if jobErr != nil {
		body["error"] = jobErr.Error()
	} else {
		body["checksum"] = value
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s/domehead/dome_chksumstatus", r.headServer)
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
		return errors.New(errors.CodeConnectionFailed, fmt.Sprintf("dome_chksumstatus returned status %d", resp.StatusCode)).
			WithComponent("checksum").WithOperation("chksumStatus")
	}
	return nil
}

// OCPDispatcher issues a head node's dome_dochksum call to the disk
// server owning the replica, implementing Dispatcher as a client.
type OCPDispatcher struct {
	pool *ocp.Pool
}

// NewOCPDispatcher constructs an OCPDispatcher.
func NewOCPDispatcher(pool *ocp.Pool) *OCPDispatcher {
	return &OCPDispatcher{pool: pool}
}

// DoChksum POSTs to server's dome_dochksum, starting the checksum job.
func (d *OCPDispatcher) DoChksum(ctx context.Context, server, pfn, checksumType string) error {
	body := map[string]string{"pfn": pfn, "checksumtype": checksumType}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s/domedisk/dome_dochksum", server)
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
		return errors.New(errors.CodeConnectionFailed, fmt.Sprintf("dome_dochksum returned status %d", resp.StatusCode)).
			WithComponent("checksum").WithOperation("doChksum")
	}
	return nil
}
