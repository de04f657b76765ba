package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/voicegate/internal/config"
	"github.com/sebas/voicegate/internal/events"
	"github.com/sebas/voicegate/internal/metrics"
	"github.com/sebas/voicegate/internal/rtp"
)

// Engine is the SIP user agent. It terminates signaling for both inbound
// and outbound dialogs, owns the RTP port allocator, and publishes dialog
// lifecycle events on the bus.
type Engine struct {
	cfg    *config.Config
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client
	bus    *events.Bus
	ports  *rtp.PortAllocator

	mu      sync.RWMutex
	dialogs map[string]*Dialog

	// advertiseAddr and advertisePort may be rewritten from the Via
	// received/rport params of the REGISTER response behind NAT.
	advertMu      sync.RWMutex
	advertiseAddr string
	advertisePort int

	reg *registrar

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates the SIP user agent from the given configuration.
func NewEngine(cfg *config.Config, bus *events.Bus) (*Engine, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	ports, err := rtp.NewPortAllocator(cfg.RTPPortMin, cfg.RTPPortMax)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create port allocator: %w", err)
	}

	e := &Engine{
		cfg:           cfg,
		ua:            ua,
		srv:           srv,
		client:        client,
		bus:           bus,
		ports:         ports,
		dialogs:       make(map[string]*Dialog),
		advertiseAddr: cfg.AdvertiseAddr,
		advertisePort: cfg.SIPPort,
	}
	e.reg = newRegistrar(e)

	srv.OnRequest(sip.INVITE, e.onInvite)
	srv.OnRequest(sip.ACK, e.onAck)
	srv.OnRequest(sip.BYE, e.onBye)
	srv.OnRequest(sip.CANCEL, e.onCancel)
	srv.OnRequest(sip.OPTIONS, e.onOther)
	srv.OnRequest(sip.INFO, e.onOther)

	slog.Info("[Engine] SIP handlers registered", "methods", "INVITE, ACK, BYE, CANCEL")
	return e, nil
}

// Start binds the SIP listener and, unless disabled, registers with the
// configured SIP domain. It returns once the listener is running.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	listenAddr := fmt.Sprintf("%s:%d", e.cfg.BindAddr, e.cfg.SIPPort)
	slog.Info("[Engine] Starting SIP server", "listenAddr", listenAddr)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.srv.ListenAndServe(e.ctx, "udp", listenAddr); err != nil {
			slog.Error("[Engine] SIP listener stopped", "error", err)
		}
	}()

	if !e.cfg.SkipRegister {
		if err := e.reg.Start(e.ctx); err != nil {
			e.cancel()
			return fmt.Errorf("registration failed: %w", err)
		}
	}

	return nil
}

// Stop terminates all active dialogs and shuts the user agent down.
func (e *Engine) Stop() {
	e.mu.RLock()
	active := make([]*Dialog, 0, len(e.dialogs))
	for _, d := range e.dialogs {
		active = append(active, d)
	}
	e.mu.RUnlock()

	for _, d := range active {
		if !d.IsTerminated() {
			e.terminateDialog(d, ReasonLocalBYE)
		}
	}

	e.reg.Stop()

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	if err := e.ua.Close(); err != nil {
		slog.Warn("[Engine] Error closing user agent", "error", err)
	}
	slog.Info("[Engine] Stopped")
}

// Dialog returns the dialog with the given call ID, or nil.
func (e *Engine) Dialog(callID string) *Dialog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dialogs[callID]
}

// Endpoint returns the RTP endpoint owned by the given dialog, or nil.
func (e *Engine) Endpoint(callID string) *rtp.Endpoint {
	if d := e.Dialog(callID); d != nil {
		return d.Endpoint
	}
	return nil
}

// Dialogs returns a snapshot of all tracked dialogs.
func (e *Engine) Dialogs() []*Dialog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Dialog, 0, len(e.dialogs))
	for _, d := range e.dialogs {
		out = append(out, d)
	}
	return out
}

// TerminateCall hangs up the dialog with the given call ID.
func (e *Engine) TerminateCall(callID string) error {
	d := e.Dialog(callID)
	if d == nil {
		return fmt.Errorf("no dialog for call ID %s", callID)
	}
	e.terminateDialog(d, ReasonLocalBYE)
	return nil
}

// terminateDialog moves the dialog to Terminated, sends a BYE when the
// dialog was established and we initiated the hangup, tears down media,
// and publishes the dialog.ended event. Safe to call more than once.
func (e *Engine) terminateDialog(d *Dialog, reason TerminateReason) {
	wasEstablished := d.GetState() == StateEstablished

	if err := d.TransitionTo(StateTerminated); err != nil {
		// Already terminated, nothing to do.
		return
	}
	d.TerminateReason = reason

	if wasEstablished && reason == ReasonLocalBYE {
		if err := e.sendBYE(d); err != nil {
			slog.Warn("[Engine] Failed to send BYE", "call_id", d.CallID, "error", err)
		}
	}

	e.releaseMedia(d)
	d.Cancel()

	e.mu.Lock()
	delete(e.dialogs, d.CallID)
	e.mu.Unlock()

	metrics.ActiveDialogs.Dec()
	result := "completed"
	if !wasEstablished {
		result = "failed"
	}
	metrics.DialogsTotal.WithLabelValues(d.Direction.String(), result).Inc()
	slog.Info("[Engine] Dialog terminated", "call_id", d.CallID, "reason", reason.String(), "direction", d.Direction.String())

	e.bus.Publish(events.DialogEndedEvent{
		DialogID: d.CallID,
		Reason:   reason.String(),
	})
}

// releaseMedia stops the dialog's RTP endpoint and returns its port to
// the allocator.
func (e *Engine) releaseMedia(d *Dialog) {
	if d.Endpoint == nil {
		return
	}
	port := d.Endpoint.LocalPort()
	d.Endpoint.Stop()
	e.ports.Release(port)
}

// sendBYE builds and sends an in-dialog BYE, waiting briefly for a
// response. The dialog is torn down regardless of the outcome.
func (e *Engine) sendBYE(d *Dialog) error {
	byeReq, err := d.BuildBYE(e.contactURI())
	if err != nil {
		return err
	}

	tx, err := e.client.TransactionRequest(e.ctx, byeReq)
	if err != nil {
		return fmt.Errorf("failed to send BYE: %w", err)
	}
	defer tx.Terminate()

	select {
	case res := <-tx.Responses():
		if res != nil {
			slog.Debug("[Engine] BYE response", "call_id", d.CallID, "status", res.StatusCode)
		}
	case <-tx.Done():
	case <-e.ctx.Done():
	}
	return nil
}

// contactURI is our Contact address for outgoing requests.
func (e *Engine) contactURI() sip.Uri {
	return sip.Uri{
		User: e.cfg.Username,
		Host: e.AdvertiseAddr(),
		Port: e.AdvertisePort(),
	}
}

// AdvertiseAddr returns the address we currently advertise in SDP and
// Contact headers. It starts as the configured address and may be
// rewritten from the registrar's Via params.
func (e *Engine) AdvertiseAddr() string {
	e.advertMu.RLock()
	defer e.advertMu.RUnlock()
	return e.advertiseAddr
}

// AdvertisePort returns the SIP port we advertise in Contact headers.
// It starts as the configured port and may be rewritten from the
// registrar's Via rport param when the NAT remapped it.
func (e *Engine) AdvertisePort() int {
	e.advertMu.RLock()
	defer e.advertMu.RUnlock()
	return e.advertisePort
}

// setAdvertised updates the advertised address and port from a NAT
// binding observation. Zero values leave the current setting alone.
func (e *Engine) setAdvertised(addr string, port int) {
	e.advertMu.Lock()
	defer e.advertMu.Unlock()
	if addr != "" && addr != e.advertiseAddr {
		slog.Info("[Engine] Advertise address updated", "addr", addr)
		e.advertiseAddr = addr
	}
	if port != 0 && port != e.advertisePort {
		slog.Info("[Engine] Advertise port updated", "port", port)
		e.advertisePort = port
	}
}

func (e *Engine) addDialog(d *Dialog) {
	e.mu.Lock()
	e.dialogs[d.CallID] = d
	e.mu.Unlock()
	metrics.ActiveDialogs.Inc()
}

// onOther rejects methods we do not support.
func (e *Engine) onOther(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 405, "Method Not Allowed", nil)
	if err := tx.Respond(res); err != nil {
		slog.Error("[Engine] Error responding to "+req.Method.String(), "error", err)
	}
}
