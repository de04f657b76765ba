package sipua

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	psdp "github.com/pion/sdp/v3"

	"github.com/sebas/voicegate/internal/rtp"
)

// MediaInfo is the remote media endpoint negotiated through SDP.
type MediaInfo struct {
	Addr  string
	Port  int
	Codec rtp.Codec
}

// ParseMedia extracts the remote media endpoint and negotiated codec from
// an SDP body. The first audio media description wins. Codec preference is
// PCMA over PCMU when both are offered.
func ParseMedia(body []byte) (MediaInfo, error) {
	if len(body) == 0 {
		return MediaInfo{}, fmt.Errorf("empty SDP body")
	}

	sdpObj := &psdp.SessionDescription{}
	if err := sdpObj.Unmarshal(body); err != nil {
		return MediaInfo{}, fmt.Errorf("failed to parse SDP: %w", err)
	}

	if len(sdpObj.MediaDescriptions) == 0 {
		return MediaInfo{}, fmt.Errorf("no media descriptions in SDP")
	}

	mediaDesc := sdpObj.MediaDescriptions[0]
	port := mediaDesc.MediaName.Port.Value
	formats := mediaDesc.MediaName.Formats

	codec, err := selectCodec(formats)
	if err != nil {
		return MediaInfo{}, err
	}

	// Connection info can be media-level or session-level
	addr := ""
	if mediaDesc.ConnectionInformation != nil && mediaDesc.ConnectionInformation.Address != nil {
		addr = mediaDesc.ConnectionInformation.Address.Address
	} else if sdpObj.ConnectionInformation != nil && sdpObj.ConnectionInformation.Address != nil {
		addr = sdpObj.ConnectionInformation.Address.Address
	}
	if addr == "" {
		return MediaInfo{}, fmt.Errorf("no connection address in SDP")
	}

	slog.Debug("[SDP] Parsed media", "addr", addr, "port", port, "codecs", formats, "selected", codec.Name)

	return MediaInfo{Addr: addr, Port: port, Codec: codec}, nil
}

// selectCodec picks a G.711 variant from the offered payload types.
// PCMA is preferred when offered, otherwise PCMU.
func selectCodec(formats []string) (rtp.Codec, error) {
	hasPCMU := false
	for _, f := range formats {
		switch f {
		case strconv.Itoa(int(rtp.CodecPCMA.PayloadType)):
			return rtp.CodecPCMA, nil
		case strconv.Itoa(int(rtp.CodecPCMU.PayloadType)):
			hasPCMU = true
		}
	}
	if hasPCMU {
		return rtp.CodecPCMU, nil
	}
	return rtp.Codec{}, fmt.Errorf("no supported codec in offer: %v", formats)
}

// BuildOffer creates an SDP offer advertising both G.711 variants plus
// telephone-event, sendrecv, 20ms packetization.
func BuildOffer(localAddr string, localPort int) ([]byte, error) {
	formats := []string{
		strconv.Itoa(int(rtp.CodecPCMU.PayloadType)),
		strconv.Itoa(int(rtp.CodecPCMA.PayloadType)),
		strconv.Itoa(int(rtp.CodecTelephoneEvent.PayloadType)),
	}
	return buildSDP(localAddr, localPort, formats)
}

// BuildAnswer creates an SDP answer carrying the single negotiated codec
// plus telephone-event.
func BuildAnswer(localAddr string, localPort int, codec rtp.Codec) ([]byte, error) {
	formats := []string{
		strconv.Itoa(int(codec.PayloadType)),
		strconv.Itoa(int(rtp.CodecTelephoneEvent.PayloadType)),
	}
	return buildSDP(localAddr, localPort, formats)
}

func buildSDP(localAddr string, localPort int, formats []string) ([]byte, error) {
	sessionDesc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "voicegate",
			SessionID:      uint64(time.Now().Unix()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localAddr,
		},
		SessionName: "Voicegate Media Session",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address: &psdp.Address{
				Address: localAddr,
			},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{
				Timing: psdp.Timing{StartTime: 0, StopTime: 0},
			},
		},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "audio",
					Port:    psdp.RangedPort{Value: localPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: codecAttributes(formats),
			},
		},
	}

	body, err := sessionDesc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SDP: %w", err)
	}
	return body, nil
}

// codecAttributes returns rtpmap and fmtp attributes for the given formats.
func codecAttributes(formats []string) []psdp.Attribute {
	rtpmapMap := map[string]string{
		"0":   "PCMU/8000",
		"8":   "PCMA/8000",
		"101": "telephone-event/8000",
	}

	attrs := []psdp.Attribute{}

	for _, format := range formats {
		if rtpmap, ok := rtpmapMap[format]; ok {
			attrs = append(attrs, psdp.Attribute{
				Key:   "rtpmap",
				Value: format + " " + rtpmap,
			})
		}
	}

	for _, format := range formats {
		if format == "101" {
			attrs = append(attrs, psdp.Attribute{
				Key:   "fmtp",
				Value: "101 0-15",
			})
		}
	}

	// 20ms frames, standard for G.711 telephony
	attrs = append(attrs, psdp.Attribute{Key: "ptime", Value: "20"})
	attrs = append(attrs, psdp.Attribute{Key: "sendrecv"})

	return attrs
}
