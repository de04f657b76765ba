package sipua

import (
	"log/slog"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/voicegate/internal/events"
	"github.com/sebas/voicegate/internal/rtp"
)

// onInvite handles an incoming INVITE. An INVITE whose Call-ID matches an
// established dialog is a re-INVITE and only refreshes the remote media
// address; anything else starts a new inbound dialog.
func (e *Engine) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}

	if existing := e.Dialog(callID); existing != nil {
		e.onReInvite(existing, req, tx)
		return
	}

	slog.Info("[Invite] Incoming call", "call_id", callID, "from", req.From().Address.String())

	media, err := ParseMedia(req.Body())
	if err != nil {
		slog.Warn("[Invite] Rejecting INVITE with bad SDP", "call_id", callID, "error", err)
		e.respond(req, tx, 488, "Not Acceptable Here")
		return
	}

	port, err := e.ports.Allocate()
	if err != nil {
		slog.Error("[Invite] No media ports available", "call_id", callID, "error", err)
		e.respond(req, tx, 503, "Service Unavailable")
		return
	}

	endpoint := rtp.NewEndpoint(port)
	if err := endpoint.Start(); err != nil {
		slog.Error("[Invite] Failed to start media endpoint", "call_id", callID, "error", err)
		e.ports.Release(port)
		e.respond(req, tx, sip.StatusInternalServerError, "Server Error")
		return
	}

	// Bind remote media before answering so early inbound RTP is accepted
	if err := endpoint.SetRemote(media.Addr, media.Port); err != nil {
		slog.Error("[Invite] Cannot bind remote media", "call_id", callID, "error", err)
		endpoint.Stop()
		e.ports.Release(port)
		e.respond(req, tx, sip.StatusInternalServerError, "Server Error")
		return
	}
	_ = endpoint.SetPayloadType(media.Codec.PayloadType)

	d := NewInboundDialog(req, tx, endpoint)
	e.addDialog(d)

	// 100 Trying stops INVITE retransmissions while we build the answer
	trying := sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		slog.Error("[Invite] Failed to send 100 Trying", "call_id", callID, "error", err)
	}

	answer, err := BuildAnswer(e.AdvertiseAddr(), port, media.Codec)
	if err != nil {
		slog.Error("[Invite] Failed to build SDP answer", "call_id", callID, "error", err)
		e.respond(req, tx, sip.StatusInternalServerError, "Server Error")
		e.terminateDialog(d, ReasonError)
		return
	}

	ok := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	if to := ok.To(); to != nil {
		if _, has := to.Params.Get("tag"); !has {
			to.Params.Add("tag", uuid.New().String()[:8])
		}
	}
	contentType := sip.ContentTypeHeader("application/sdp")
	ok.AppendHeader(&contentType)
	ok.AppendHeader(&sip.ContactHeader{Address: e.contactURI()})

	if err := tx.Respond(ok); err != nil {
		slog.Error("[Invite] Failed to send 200 OK", "call_id", callID, "error", err)
		e.terminateDialog(d, ReasonError)
		return
	}
	d.SetInviteResponse(ok)

	slog.Info("[Invite] Answered", "call_id", callID, "codec", media.Codec.Name, "local_port", port, "remote", media.Addr)
}

// onReInvite refreshes the remote media address of an existing dialog and
// re-sends the current answer. Codec and local port never change mid-call.
func (e *Engine) onReInvite(d *Dialog, req *sip.Request, tx sip.ServerTransaction) {
	slog.Info("[Invite] re-INVITE", "call_id", d.CallID)

	if media, err := ParseMedia(req.Body()); err == nil {
		if err := d.Endpoint.SetRemote(media.Addr, media.Port); err != nil {
			slog.Warn("[Invite] re-INVITE remote rebind failed", "call_id", d.CallID, "error", err)
		}
	} else {
		slog.Warn("[Invite] re-INVITE with bad SDP, keeping current media", "call_id", d.CallID, "error", err)
	}

	codec, _ := rtp.CodecByPayloadType(d.Endpoint.PayloadType())
	answer, err := BuildAnswer(e.AdvertiseAddr(), d.Endpoint.LocalPort(), codec)
	if err != nil {
		e.respond(req, tx, sip.StatusInternalServerError, "Server Error")
		return
	}

	ok := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	if to := ok.To(); to != nil {
		if _, has := to.Params.Get("tag"); !has && d.LocalTag != "" {
			to.Params.Add("tag", d.LocalTag)
		}
	}
	contentType := sip.ContentTypeHeader("application/sdp")
	ok.AppendHeader(&contentType)
	ok.AppendHeader(&sip.ContactHeader{Address: e.contactURI()})

	if err := tx.Respond(ok); err != nil {
		slog.Error("[Invite] Failed to answer re-INVITE", "call_id", d.CallID, "error", err)
	}
}

// onAck confirms an inbound dialog. The dialog becomes established and
// dialog.started is published with its media endpoint.
func (e *Engine) onAck(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}

	d := e.Dialog(callID)
	if d == nil {
		slog.Debug("[Invite] ACK for unknown dialog", "call_id", callID)
		return
	}

	if err := d.TransitionTo(StateEstablished); err != nil {
		// re-INVITE ACK or retransmission
		slog.Debug("[Invite] ACK in state "+d.GetState().String(), "call_id", callID)
		return
	}

	slog.Info("[Invite] Dialog established", "call_id", callID)
	e.bus.Publish(events.DialogStartedEvent{
		DialogID: callID,
		Remote:   d.RemoteURI,
		Endpoint: d.Endpoint,
	})
}

// onBye terminates a dialog at the remote party's request. A BYE for an
// unknown dialog gets 481 per RFC 3261 Section 15.1.2.
func (e *Engine) onBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}

	d := e.Dialog(callID)
	if d == nil {
		slog.Debug("[Invite] BYE for unknown dialog", "call_id", callID)
		e.respond(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}

	e.respond(req, tx, sip.StatusOK, "OK")
	slog.Info("[Invite] Remote hangup", "call_id", callID)
	e.terminateDialog(d, ReasonRemoteBYE)
}

// onCancel aborts an early inbound dialog. The CANCEL gets 200 and the
// pending INVITE transaction gets 487 Request Terminated.
func (e *Engine) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}

	e.respond(req, tx, sip.StatusOK, "OK")

	d := e.Dialog(callID)
	if d == nil || d.GetState() == StateEstablished {
		slog.Debug("[Invite] CANCEL without matching early dialog", "call_id", callID)
		return
	}

	if d.Transaction != nil && d.InviteRequest != nil {
		terminated := sip.NewResponseFromRequest(d.InviteRequest, 487, "Request Terminated", nil)
		if err := d.Transaction.Respond(terminated); err != nil {
			slog.Warn("[Invite] Failed to send 487", "call_id", callID, "error", err)
		}
	}

	slog.Info("[Invite] Call canceled", "call_id", callID)
	e.terminateDialog(d, ReasonCancel)
}

// respond sends a simple status response on the server transaction.
func (e *Engine) respond(req *sip.Request, tx sip.ServerTransaction, status sip.StatusCode, reason string) {
	res := sip.NewResponseFromRequest(req, status, reason, nil)
	if err := tx.Respond(res); err != nil {
		slog.Error("[Invite] Error sending response", "status", int(status), "error", err)
	}
}
