package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

const (
	registerExpiry       = 300 * time.Second
	registerRetryBackoff = 10 * time.Second
)

// registrar maintains our registration with the configured SIP domain.
// It registers once at startup and refreshes at 80% of the granted
// expiry, replacing any previously scheduled refresh.
type registrar struct {
	engine *Engine

	// Registration identifiers stay stable across refreshes
	callID   string
	localTag string
	cseq     uint32

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	ctx context.Context
}

func newRegistrar(e *Engine) *registrar {
	return &registrar{
		engine:   e,
		callID:   uuid.New().String(),
		localTag: uuid.New().String()[:8],
	}
}

// Start performs the initial registration. It blocks until the registrar
// has a 200 OK or a final failure.
func (r *registrar) Start(ctx context.Context) error {
	r.ctx = ctx

	expiry, err := r.register(ctx, registerExpiry)
	if err != nil {
		return err
	}

	r.scheduleRefresh(expiry)
	slog.Info("[Register] Registered", "user", r.engine.cfg.Username, "domain", r.engine.cfg.Domain, "expiry", expiry)
	return nil
}

// Stop cancels the refresh timer and removes the binding with an
// Expires: 0 registration, best effort.
func (r *registrar) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()

	if r.ctx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.register(ctx, 0); err != nil {
		slog.Debug("[Register] Deregistration failed", "error", err)
	}
}

// scheduleRefresh arms the refresh timer at 80% of the granted expiry.
// Any previously armed timer is replaced.
func (r *registrar) scheduleRefresh(expiry time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(expiry*8/10, r.refresh)
}

func (r *registrar) refresh() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	expiry, err := r.register(r.ctx, registerExpiry)
	if err != nil {
		slog.Error("[Register] Refresh failed, will retry", "error", err, "backoff", registerRetryBackoff)
		r.scheduleRefresh(registerRetryBackoff * 10 / 8)
		return
	}
	slog.Debug("[Register] Refreshed", "expiry", expiry)
	r.scheduleRefresh(expiry)
}

// register sends one REGISTER, answering a digest challenge at most once,
// and returns the expiry granted by the server.
func (r *registrar) register(ctx context.Context, expires time.Duration) (time.Duration, error) {
	req := r.buildREGISTER(expires, "", "")

	resp, err := r.execute(ctx, req)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode == 401 || resp.StatusCode == 407 {
		challengeVal, credName, err := extractChallenge(resp)
		if err != nil {
			return 0, err
		}
		cred, err := answerChallenge(challengeVal, "REGISTER", req.Recipient.String(),
			r.engine.cfg.Username, r.engine.cfg.Password)
		if err != nil {
			return 0, err
		}

		req = r.buildREGISTER(expires, credName, cred)
		resp, err = r.execute(ctx, req)
		if err != nil {
			return 0, err
		}
	}

	if resp.StatusCode != sip.StatusOK {
		return 0, fmt.Errorf("REGISTER rejected: %d %s", resp.StatusCode, resp.Reason)
	}

	// Behind NAT the server tells us our public binding in the Via
	if addr, port := natBinding(resp); addr != "" || port != 0 {
		r.engine.setAdvertised(addr, port)
	}

	return grantedExpiry(resp, expires), nil
}

// natBinding reads the server-observed source address and port from the
// topmost Via of a response (RFC 3581). Absent params come back zero.
func natBinding(resp *sip.Response) (addr string, port int) {
	via := resp.Via()
	if via == nil {
		return "", 0
	}
	if received, ok := via.Params.Get("received"); ok {
		addr = received
	}
	if rport, ok := via.Params.Get("rport"); ok {
		if p, err := strconv.Atoi(rport); err == nil && p > 0 {
			port = p
		}
	}
	return addr, port
}

// execute runs the REGISTER transaction and waits for a final response.
func (r *registrar) execute(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	txCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.engine.client.TransactionRequest(txCtx, req)
	if err != nil {
		return nil, fmt.Errorf("send REGISTER: %w", err)
	}
	defer tx.Terminate()

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				return nil, fmt.Errorf("REGISTER transaction closed without response")
			}
			if resp.StatusCode < 200 {
				continue
			}
			return resp, nil
		case <-tx.Done():
			return nil, fmt.Errorf("REGISTER transaction terminated")
		case <-txCtx.Done():
			return nil, txCtx.Err()
		}
	}
}

func (r *registrar) buildREGISTER(expires time.Duration, authHeader, authValue string) *sip.Request {
	cfg := r.engine.cfg

	recipient := sip.Uri{Scheme: "sip", Host: cfg.Domain}
	req := sip.NewRequest(sip.REGISTER, recipient)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	aor := sip.Uri{Scheme: "sip", User: cfg.Username, Host: cfg.Domain}

	fromParams := sip.NewParams()
	fromParams.Add("tag", r.localTag)
	req.AppendHeader(&sip.FromHeader{Address: aor, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(r.callID)
	req.AppendHeader(&callIDHdr)

	r.cseq++
	req.AppendHeader(&sip.CSeqHeader{SeqNo: r.cseq, MethodName: sip.REGISTER})

	req.AppendHeader(&sip.ContactHeader{Address: r.engine.contactURI()})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expires/time.Second))))
	req.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE, CANCEL, OPTIONS"))

	if authHeader != "" {
		req.AppendHeader(sip.NewHeader(authHeader, authValue))
	}

	return req
}

// grantedExpiry reads the expiry the server granted, falling back to what
// we requested.
func grantedExpiry(resp *sip.Response, requested time.Duration) time.Duration {
	if h := resp.GetHeader("Expires"); h != nil {
		if secs, err := strconv.Atoi(h.Value()); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if contact := resp.Contact(); contact != nil {
		if v, ok := contact.Params.Get("expires"); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return requested
}
