// Package ocp is the outbound client pool: the head's and disk nodes'
// dmlite/Davix-equivalent HTTP client, pooled the way the teacher pools
// its own outbound service clients, X.509 client-cert authenticated,
// and wrapped in a per-server circuit breaker and retry policy for
// every dome_* call it makes to a peer.
package ocp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/griddome/domed/internal/circuit"
	"github.com/griddome/domed/internal/config"
	"github.com/griddome/domed/pkg/errors"
	"github.com/griddome/domed/pkg/retry"
)

// Pool pools *http.Client instances sharing one TLS client-cert
// configuration, bounded at maxSize — get, use, put back, or let it be
// discarded if the pool is full.
type Pool struct {
	clients chan *http.Client
	factory func() (*http.Client, error)
	maxSize int

	breakers *circuit.Manager
	retryer *retry.Retryer
}

// NewPool builds a Pool from the outbound REST client configuration.
func NewPool(cfg config.RestClientConfig) (*Pool, error) {
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	factory := func() (*http.Client, error) {
		return &http.Client{
			Timeout: cfg.OpsTimeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
				DialContext: (&net.Dialer{Timeout: cfg.ConnTimeout}).DialContext,
			},
		}, nil
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = 8
	}

	threshold := cfg.CircuitBreaker.Threshold
	if threshold <= 0 {
		threshold = 5
	}

	return &Pool{
		clients: make(chan *http.Client, size),
		factory: factory,
		maxSize: size,
		breakers: circuit.NewManager(circuit.Config{
			Timeout: cfg.CircuitBreaker.Timeout,
			ReadyToTrip: func(counts circuit.Counts) bool {
				return counts.Requests >= uint32(threshold) && counts.TotalFailures == counts.Requests
			},
		}),
		retryer: retry.New(retry.DefaultConfig()),
	}, nil
}

// buildTLSConfig constructs the client TLS configuration from the grid
// X.509 host/service credentials named in cfg.
func buildTLSConfig(cfg config.RestClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: !cfg.SSLCheck}

	if cfg.CliCertificate != "" && cfg.CliPrivateKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CliCertificate, cfg.CliPrivateKey)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "failed to load client certificate").WithCause(err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAPath != "" {
		pem, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "failed to read CA bundle").WithCause(err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New(errors.CodeInternal, "CA bundle contained no usable certificates")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Get borrows a client from the pool, creating one if none is idle.
func (p *Pool) Get() (*http.Client, error) {
	select {
	case c := <-p.clients:
		return c, nil
	default:
		return p.factory()
	}
}

// Put returns a client to the pool, discarding it if the pool is full.
func (p *Pool) Put(c *http.Client) {
	if c == nil {
		return
	}
	select {
	case p.clients <- c:
	default:
	}
}

// Do issues req against server, through that server's circuit breaker
// and the pool's retry policy. req's context is replaced by ctx.
func (p *Pool) Do(ctx context.Context, server string, req *http.Request) (*http.Response, error) {
	client, err := p.Get()
	if err != nil {
		return nil, err
	}
	defer p.Put(client)

	breaker := p.breakers.GetBreaker(server)

	var resp *http.Response
	err = p.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
			r, doErr := client.Do(req.WithContext(ctx))
			if doErr != nil {
				return errors.New(errors.CodeConnectionFailed, "outbound request failed").WithCause(doErr)
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type spaceInfoResponse struct {
	FreeSpace int64 `json:"freespace"`
	PhysicalSize int64 `json:"physicalsize"`
}

// GetSpaceInfo issues dome_getspaceinfo against server for fs, the
// slow ticker's disk-server space re-probe.
func (p *Pool) GetSpaceInfo(ctx context.Context, server, fs string) (freeSpace, physicalSize int64, err error) {
	url := fmt.Sprintf("https://%s/domedisk/dome_getspaceinfo?fs=%s", server, fs)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}

	resp, err := p.Do(ctx, server, req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, errors.New(errors.CodeConnectionFailed, fmt.Sprintf("dome_getspaceinfo returned status %d", resp.StatusCode)).
			WithComponent("ocp").WithOperation("getSpaceInfo")
	}

	var body spaceInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, errors.New(errors.CodeInternal, "malformed dome_getspaceinfo response").WithCause(err)
	}
	return body.FreeSpace, body.PhysicalSize, nil
}

// Probe is a status.Prober: reachability is "dome_getspaceinfo answers
// for the server's root filesystem path at all", the same call the
// slow ticker's space leg already needs, so a disk server failing it
// is both unreachable and has unknown free space — exactly the state
// the registry should mark Broken.
func (p *Pool) Probe(ctx context.Context, server string) error {
	_, _, err := p.GetSpaceInfo(ctx, server, "")
	return err
}

// StatPfn issues dome_statpfn against server, used when adding a
// filesystem to verify the target disk server is reachable before the
// filesystem is persisted.
func (p *Pool) StatPfn(ctx context.Context, server, pfn string) (size int64, err error) {
	url := fmt.Sprintf("https://%s/domedisk/dome_statpfn?pfn=%s", server, pfn)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := p.Do(ctx, server, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.New(errors.CodeConnectionFailed, fmt.Sprintf("dome_statpfn returned status %d", resp.StatusCode)).
			WithComponent("ocp").WithOperation("statPfn")
	}

	var body struct {
		Size int64 `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, errors.New(errors.CodeInternal, "malformed dome_statpfn response").WithCause(err)
	}
	return body.Size, nil
}

// ServerStatus lets callers inspect a server's breaker without
// tripping it.
func (p *Pool) ServerStatus(server string) circuit.State {
	return p.breakers.GetBreaker(server).GetState()
}
