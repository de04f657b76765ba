package sipua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/voicegate/internal/rtp"
)

// Dialog represents a SIP dialog with full lifecycle state tracking.
// Each dialog owns exactly one RTP endpoint for the lifetime of the call.
type Dialog struct {
	mu sync.RWMutex

	// Identification per RFC 3261 Section 12
	CallID    string
	LocalTag  string
	RemoteTag string

	// Direction indicates if we initiated (outbound) or received (inbound) the dialog
	Direction Direction

	// State machine
	State          CallState
	CreatedAt      time.Time
	StateChangedAt time.Time

	// Original request/response for in-dialog request construction
	InviteRequest  *sip.Request
	InviteResponse *sip.Response
	Transaction    sip.ServerTransaction

	// Endpoint is the RTP endpoint owned by this dialog.
	// Created when the dialog is created, closed when it terminates.
	Endpoint *rtp.Endpoint

	// Remote party display info
	RemoteURI string

	// Outbound dialog info (populated from 200 OK for UAC dialogs).
	// RemoteContactURI is used as Request-URI for BYE.
	RemoteContactURI string

	// CSeq tracking for requests we initiate (BYE)
	localCSeq atomic.Uint32

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	// Termination info
	TerminateReason TerminateReason
}

// NewInboundDialog creates a dialog from an incoming INVITE request.
func NewInboundDialog(req *sip.Request, tx sip.ServerTransaction, endpoint *rtp.Endpoint) *Dialog {
	ctx, cancel := context.WithCancel(context.Background())

	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}

	remoteTag := ""
	remoteURI := ""
	if from := req.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			remoteTag = tag
		}
		remoteURI = from.Address.String()
	}

	// Our next in-dialog request will be CSeq + 1
	var initialCSeq uint32
	if cseq := req.CSeq(); cseq != nil {
		initialCSeq = cseq.SeqNo
	}

	now := time.Now()
	d := &Dialog{
		CallID:         callID,
		RemoteTag:      remoteTag,
		RemoteURI:      remoteURI,
		Direction:      DirectionInbound,
		State:          StateCalling,
		CreatedAt:      now,
		StateChangedAt: now,
		InviteRequest:  req,
		Transaction:    tx,
		Endpoint:       endpoint,
		ctx:            ctx,
		cancel:         cancel,
	}
	d.localCSeq.Store(initialCSeq)
	return d
}

// NewOutboundDialog creates a dialog for an outbound call (UAC role).
// The invite is the INVITE request we are about to send.
func NewOutboundDialog(invite *sip.Request, endpoint *rtp.Endpoint) *Dialog {
	ctx, cancel := context.WithCancel(context.Background())

	callID := ""
	if invite.CallID() != nil {
		callID = string(*invite.CallID())
	}

	// Our local tag is from the From header of our INVITE
	localTag := ""
	if from := invite.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			localTag = tag
		}
	}

	remoteURI := ""
	if to := invite.To(); to != nil {
		remoteURI = to.Address.String()
	}

	var initialCSeq uint32 = 1
	if cseq := invite.CSeq(); cseq != nil {
		initialCSeq = cseq.SeqNo
	}

	now := time.Now()
	d := &Dialog{
		CallID:         callID,
		LocalTag:       localTag,
		RemoteURI:      remoteURI,
		Direction:      DirectionOutbound,
		State:          StateCalling,
		CreatedAt:      now,
		StateChangedAt: now,
		InviteRequest:  invite,
		Endpoint:       endpoint,
		ctx:            ctx,
		cancel:         cancel,
	}
	d.localCSeq.Store(initialCSeq)
	return d
}

// SetInviteResponse stores the final response for later BYE construction.
func (d *Dialog) SetInviteResponse(resp *sip.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InviteResponse = resp

	if d.Direction == DirectionOutbound {
		// Remote tag is from the To header of the 200 OK
		if to := resp.To(); to != nil {
			if tag, ok := to.Params.Get("tag"); ok {
				d.RemoteTag = tag
			}
		}
		if contact := resp.Contact(); contact != nil {
			d.RemoteContactURI = contact.Address.String()
		}
	} else {
		// Our local tag from the To header of our response
		if to := resp.To(); to != nil {
			if tag, ok := to.Params.Get("tag"); ok {
				d.LocalTag = tag
			}
		}
	}
}

// GetState returns the current dialog state.
func (d *Dialog) GetState() CallState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.State
}

// TransitionTo attempts to transition to a new state.
func (d *Dialog) TransitionTo(newState CallState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.State.CanTransitionTo(newState) {
		return fmt.Errorf("invalid state transition: %s -> %s", d.State, newState)
	}

	d.State = newState
	d.StateChangedAt = time.Now()
	return nil
}

// Context returns the dialog's context for lifetime management.
func (d *Dialog) Context() context.Context {
	return d.ctx
}

// Cancel cancels the dialog's context.
func (d *Dialog) Cancel() {
	d.cancel()
}

// IsTerminated returns true if dialog is in terminal state.
func (d *Dialog) IsTerminated() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.State == StateTerminated
}

// BuildBYE constructs a BYE request for this dialog.
// Per RFC 3261 Section 12.2.1.1, in-dialog requests use the dialog's identifiers.
func (d *Dialog) BuildBYE(localContact sip.Uri) (*sip.Request, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.InviteRequest == nil {
		return nil, fmt.Errorf("cannot build BYE: missing INVITE request")
	}

	// Determine Request-URI based on direction
	var recipient sip.Uri
	if d.Direction == DirectionOutbound {
		// For outbound (UAC): use Remote Contact from 200 OK
		if d.RemoteContactURI != "" {
			if err := sip.ParseUri(d.RemoteContactURI, &recipient); err != nil {
				return nil, fmt.Errorf("cannot parse remote contact URI: %w", err)
			}
		} else if d.InviteResponse != nil && d.InviteResponse.Contact() != nil {
			recipient = d.InviteResponse.Contact().Address
		} else if to := d.InviteRequest.To(); to != nil {
			recipient = to.Address
		}
	} else {
		// For inbound (UAS): use Contact from incoming INVITE
		if contact := d.InviteRequest.Contact(); contact != nil {
			recipient = contact.Address
			recipient.UriParams = sip.NewParams()
		} else {
			recipient = d.InviteRequest.From().Address
		}
	}

	byeReq := sip.NewRequest(sip.BYE, recipient)

	if len(d.InviteRequest.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", d.InviteRequest, byeReq)
	}

	if d.Direction == DirectionOutbound {
		// From = our identity with our tag, To = their identity with the 200 OK tag
		if from := d.InviteRequest.From(); from != nil {
			byeReq.AppendHeader(&sip.FromHeader{
				DisplayName: from.DisplayName,
				Address:     from.Address,
				Params:      from.Params.Clone(),
			})
		}
		if to := d.InviteRequest.To(); to != nil {
			toHdr := &sip.ToHeader{
				DisplayName: to.DisplayName,
				Address:     to.Address,
				Params:      sip.NewParams(),
			}
			if d.RemoteTag != "" {
				toHdr.Params.Add("tag", d.RemoteTag)
			}
			byeReq.AppendHeader(toHdr)
		}
	} else {
		// For inbound (UAS) the From/To identities swap:
		// From = To of our 200 OK (our tag), To = From of the INVITE (their tag)
		if d.InviteResponse != nil {
			if to := d.InviteResponse.To(); to != nil {
				byeReq.AppendHeader(&sip.FromHeader{
					DisplayName: to.DisplayName,
					Address:     to.Address,
					Params:      to.Params.Clone(),
				})
			}
		}
		if from := d.InviteRequest.From(); from != nil {
			byeReq.AppendHeader(&sip.ToHeader{
				DisplayName: from.DisplayName,
				Address:     from.Address,
				Params:      from.Params.Clone(),
			})
		}
	}

	// Call-ID must match the dialog
	if callIDHdr := d.InviteRequest.CallID(); callIDHdr != nil {
		byeReq.AppendHeader(callIDHdr)
	}

	newSeqNo := d.localCSeq.Add(1)
	byeReq.AppendHeader(&sip.CSeqHeader{
		SeqNo:      newSeqNo,
		MethodName: sip.BYE,
	})

	maxFwd := sip.MaxForwardsHeader(70)
	byeReq.AppendHeader(&maxFwd)

	byeReq.AppendHeader(&sip.ContactHeader{Address: localContact})

	return byeReq, nil
}
