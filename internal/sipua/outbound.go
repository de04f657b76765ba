package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/voicegate/internal/events"
	"github.com/sebas/voicegate/internal/metrics"
	"github.com/sebas/voicegate/internal/rtp"
)

const dialTimeout = 60 * time.Second

// InitiateCall starts an outbound call to the given SIP URI and returns
// the new dialog's call ID immediately. displayName may be empty.
// Response handling runs in the background; progress is reported through
// dialog events on the bus.
func (e *Engine) InitiateCall(ctx context.Context, target, displayName string) (string, error) {
	var requestURI sip.Uri
	if err := sip.ParseUri(target, &requestURI); err != nil {
		return "", fmt.Errorf("invalid target URI %q: %w", target, err)
	}

	port, err := e.ports.Allocate()
	if err != nil {
		return "", fmt.Errorf("no media port for outbound call: %w", err)
	}

	endpoint := rtp.NewEndpoint(port)
	if err := endpoint.Start(); err != nil {
		e.ports.Release(port)
		return "", fmt.Errorf("failed to start media endpoint: %w", err)
	}

	offer, err := BuildOffer(e.AdvertiseAddr(), port)
	if err != nil {
		endpoint.Stop()
		e.ports.Release(port)
		return "", err
	}

	callID := uuid.New().String()
	localTag := uuid.New().String()[:8]
	invite := e.buildINVITE(requestURI, callID, localTag, displayName, offer)

	d := NewOutboundDialog(invite, endpoint)
	e.addDialog(d)

	go e.runOutbound(ctx, d, invite)

	slog.Info("[Outbound] Call initiated", "call_id", callID, "target", target)
	return callID, nil
}

// buildINVITE constructs the outbound INVITE request.
func (e *Engine) buildINVITE(requestURI sip.Uri, callID, localTag, displayName string, sdpBody []byte) *sip.Request {
	invite := sip.NewRequest(sip.INVITE, requestURI)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromURI := sip.Uri{
		Scheme: "sip",
		User:   e.cfg.Username,
		Host:   e.cfg.Domain,
	}
	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	invite.AppendHeader(&sip.FromHeader{
		DisplayName: displayName,
		Address:     fromURI,
		Params:      fromParams,
	})

	invite.AppendHeader(&sip.ToHeader{
		Address: requestURI,
		Params:  sip.NewParams(),
	})

	callIDHdr := sip.CallIDHeader(callID)
	invite.AppendHeader(&callIDHdr)

	invite.AppendHeader(&sip.CSeqHeader{
		SeqNo:      1,
		MethodName: sip.INVITE,
	})

	invite.AppendHeader(&sip.ContactHeader{Address: e.contactURI()})

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(sdpBody)

	return invite
}

// runOutbound drives the INVITE transaction to a final outcome. A 401 or
// 407 challenge is answered exactly once with digest credentials; a second
// challenge fails the call.
func (e *Engine) runOutbound(ctx context.Context, d *Dialog, invite *sip.Request) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	tx, err := e.client.TransactionRequest(dialCtx, invite)
	if err != nil {
		e.failDialog(d, 503, "Transaction failed")
		return
	}
	defer tx.Terminate()

	authTried := false

	for {
		select {
		case <-dialCtx.Done():
			_ = e.sendCANCEL(invite)
			if ctx.Err() != nil {
				e.failDialog(d, 487, "Request Terminated")
			} else {
				e.failDialog(d, 408, "Request Timeout")
			}
			return

		case <-d.Context().Done():
			// Local hangup while the call was still ringing.
			_ = e.sendCANCEL(invite)
			e.failDialog(d, 487, "Request Terminated")
			return

		case resp := <-tx.Responses():
			if resp == nil {
				e.failDialog(d, 408, "No Response")
				return
			}

			statusCode := int(resp.StatusCode)
			switch {
			case statusCode < 180:
				// 100 Trying, log only
				slog.Debug("[Outbound] Provisional response", "call_id", d.CallID, "status", statusCode)

			case statusCode < 200:
				if err := d.TransitionTo(StateRinging); err == nil {
					slog.Info("[Outbound] Ringing", "call_id", d.CallID, "status", statusCode)
					e.bus.Publish(events.DialogRingingEvent{
						DialogID: d.CallID,
						Status:   statusCode,
					})
				}

			case statusCode < 300:
				e.handleAnswered(d, invite, resp)
				return

			case statusCode == 401 || statusCode == 407:
				if authTried {
					e.failDialog(d, statusCode, resp.Reason)
					return
				}
				authTried = true

				retry, err := e.withAuthorization(d, invite, resp)
				if err != nil {
					slog.Error("[Outbound] Digest auth failed", "call_id", d.CallID, "error", err)
					e.failDialog(d, statusCode, resp.Reason)
					return
				}
				tx.Terminate()
				tx, err = e.client.TransactionRequest(dialCtx, retry)
				if err != nil {
					e.failDialog(d, 503, "Transaction failed")
					return
				}
				d.InviteRequest = retry
				invite = retry

			default:
				e.failDialog(d, statusCode, resp.Reason)
				return
			}

		case <-tx.Done():
			if d.GetState() != StateEstablished {
				e.failDialog(d, 500, "Transaction terminated")
			}
			return
		}
	}
}

// handleAnswered processes a 2xx response: binds remote media, sends the
// ACK, and publishes dialog.started.
func (e *Engine) handleAnswered(d *Dialog, invite *sip.Request, resp *sip.Response) {
	d.SetInviteResponse(resp)

	media, err := ParseMedia(resp.Body())
	if err != nil {
		slog.Error("[Outbound] Bad SDP answer", "call_id", d.CallID, "error", err)
		// ACK anyway so the remote side does not retransmit, then hang up.
		_ = e.sendACK(invite, resp)
		e.terminateDialog(d, ReasonError)
		return
	}

	if err := d.Endpoint.SetRemote(media.Addr, media.Port); err != nil {
		slog.Error("[Outbound] Cannot bind remote media", "call_id", d.CallID, "error", err)
		_ = e.sendACK(invite, resp)
		e.terminateDialog(d, ReasonError)
		return
	}
	_ = d.Endpoint.SetPayloadType(media.Codec.PayloadType)

	if err := e.sendACK(invite, resp); err != nil {
		// ACK failure does not negate the 200 OK
		slog.Error("[Outbound] Failed to send ACK", "call_id", d.CallID, "error", err)
	}

	if err := d.TransitionTo(StateEstablished); err != nil {
		slog.Warn("[Outbound] Late answer", "call_id", d.CallID, "error", err)
		return
	}

	slog.Info("[Outbound] Call answered", "call_id", d.CallID, "remote_addr", media.Addr, "remote_port", media.Port, "codec", media.Codec.Name)
	e.bus.Publish(events.DialogStartedEvent{
		DialogID: d.CallID,
		Remote:   d.RemoteURI,
		Endpoint: d.Endpoint,
	})
}

// withAuthorization rebuilds the INVITE with digest credentials answering
// the challenge in resp, bumping CSeq per RFC 3261 Section 22.2.
func (e *Engine) withAuthorization(d *Dialog, invite *sip.Request, resp *sip.Response) (*sip.Request, error) {
	challengeVal, credName, err := extractChallenge(resp)
	if err != nil {
		return nil, err
	}
	cred, err := answerChallenge(challengeVal, invite.Method.String(), invite.Recipient.String(),
		e.cfg.Username, e.cfg.Password)
	if err != nil {
		return nil, err
	}

	// A fresh request keeps the dialog identifiers but gets a new Via
	// from the transport layer.
	displayName := ""
	if from := invite.From(); from != nil {
		displayName = from.DisplayName
	}
	retry := e.buildINVITE(invite.Recipient, d.CallID, d.LocalTag, displayName, invite.Body())
	retry.AppendHeader(sip.NewHeader(credName, cred))
	if old, retryCSeq := invite.CSeq(), retry.CSeq(); old != nil && retryCSeq != nil {
		retryCSeq.SeqNo = old.SeqNo + 1
	}
	return retry, nil
}

// sendACK sends an ACK for a 2xx response. Per RFC 3261 Section 13.2.2.4
// the ACK is a new request outside the INVITE transaction, addressed to
// the Contact from the 2xx.
func (e *Engine) sendACK(invite *sip.Request, resp *sip.Response) error {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)

	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)

	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}

	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.ACK,
		})
	}

	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	// Route the ACK back to wherever the 2xx came from
	destAddr := resp.Source()
	if destAddr == "" {
		if via := resp.Via(); via != nil {
			destAddr = fmt.Sprintf("%s:%d", via.Host, via.Port)
		}
	}
	if destAddr == "" {
		port := requestURI.Port
		if port == 0 {
			port = 5060
		}
		destAddr = fmt.Sprintf("%s:%d", requestURI.Host, port)
	}
	ack.SetDestination(destAddr)

	if err := e.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("write ACK: %w", err)
	}
	slog.Debug("[Outbound] ACK sent", "dest", destAddr)
	return nil
}

// sendCANCEL cancels an in-progress INVITE per RFC 3261 Section 9.1.
func (e *Engine) sendCANCEL(invite *sip.Request) error {
	cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)

	sip.CopyHeaders("Via", invite, cancelReq)
	sip.CopyHeaders("From", invite, cancelReq)
	sip.CopyHeaders("To", invite, cancelReq)
	sip.CopyHeaders("Call-ID", invite, cancelReq)

	if cseq := invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.CANCEL,
		})
	}

	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cancelTx, err := e.client.TransactionRequest(ctx, cancelReq)
	if err != nil {
		return fmt.Errorf("send CANCEL: %w", err)
	}
	defer cancelTx.Terminate()

	select {
	case <-cancelTx.Responses():
	case <-cancelTx.Done():
	case <-ctx.Done():
	}
	return nil
}

// failDialog tears down a dialog that never got established and
// publishes dialog.failed.
func (e *Engine) failDialog(d *Dialog, status int, reason string) {
	if err := d.TransitionTo(StateTerminated); err != nil {
		return
	}
	d.TerminateReason = ReasonRejected

	e.releaseMedia(d)
	d.Cancel()

	e.mu.Lock()
	delete(e.dialogs, d.CallID)
	e.mu.Unlock()

	metrics.ActiveDialogs.Dec()
	metrics.DialogsTotal.WithLabelValues(d.Direction.String(), "failed").Inc()
	slog.Info("[Outbound] Call failed", "call_id", d.CallID, "status", status, "reason", reason)

	e.bus.Publish(events.DialogFailedEvent{
		DialogID: d.CallID,
		Status:   status,
		Reason:   reason,
	})
}
