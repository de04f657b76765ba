package sipua

import (
	"strings"
	"testing"

	"github.com/sebas/voicegate/internal/rtp"
)

func TestBuildOfferParseMediaRoundtrip(t *testing.T) {
	body, err := BuildOffer("192.168.1.10", 10000)
	if err != nil {
		t.Fatalf("BuildOffer failed: %v", err)
	}

	info, err := ParseMedia(body)
	if err != nil {
		t.Fatalf("ParseMedia failed: %v", err)
	}
	if info.Addr != "192.168.1.10" {
		t.Errorf("Addr = %q, want 192.168.1.10", info.Addr)
	}
	if info.Port != 10000 {
		t.Errorf("Port = %d, want 10000", info.Port)
	}
	// Both variants offered, PCMA wins
	if info.Codec.PayloadType != rtp.CodecPCMA.PayloadType {
		t.Errorf("Codec = %s, want PCMA", info.Codec.Name)
	}
}

func TestParseMediaPCMUOnly(t *testing.T) {
	sdp := strings.Join([]string{
		"v=0",
		"o=test 123 1 IN IP4 10.0.0.5",
		"s=-",
		"c=IN IP4 10.0.0.5",
		"t=0 0",
		"m=audio 20002 RTP/AVP 0",
		"a=rtpmap:0 PCMU/8000",
		"",
	}, "\r\n")

	info, err := ParseMedia([]byte(sdp))
	if err != nil {
		t.Fatalf("ParseMedia failed: %v", err)
	}
	if info.Codec.PayloadType != rtp.CodecPCMU.PayloadType {
		t.Errorf("Codec = %s, want PCMU", info.Codec.Name)
	}
	if info.Port != 20002 {
		t.Errorf("Port = %d, want 20002", info.Port)
	}
}

func TestParseMediaPrefersPCMAOverPCMU(t *testing.T) {
	// PCMU listed first, PCMA must still win
	sdp := strings.Join([]string{
		"v=0",
		"o=test 123 1 IN IP4 10.0.0.5",
		"s=-",
		"c=IN IP4 10.0.0.5",
		"t=0 0",
		"m=audio 20002 RTP/AVP 0 8 101",
		"a=rtpmap:0 PCMU/8000",
		"a=rtpmap:8 PCMA/8000",
		"",
	}, "\r\n")

	info, err := ParseMedia([]byte(sdp))
	if err != nil {
		t.Fatalf("ParseMedia failed: %v", err)
	}
	if info.Codec.PayloadType != rtp.CodecPCMA.PayloadType {
		t.Errorf("Codec = %s, want PCMA", info.Codec.Name)
	}
}

func TestParseMediaUnsupportedFormats(t *testing.T) {
	sdp := strings.Join([]string{
		"v=0",
		"o=test 123 1 IN IP4 10.0.0.5",
		"s=-",
		"c=IN IP4 10.0.0.5",
		"t=0 0",
		"m=audio 20002 RTP/AVP 18 96",
		"a=rtpmap:18 G729/8000",
		"",
	}, "\r\n")

	if _, err := ParseMedia([]byte(sdp)); err == nil {
		t.Error("expected error for offer without G.711")
	}
}

func TestParseMediaMissingConnectionAddress(t *testing.T) {
	sdp := strings.Join([]string{
		"v=0",
		"o=test 123 1 IN IP4 10.0.0.5",
		"s=-",
		"t=0 0",
		"m=audio 20002 RTP/AVP 0",
		"",
	}, "\r\n")

	if _, err := ParseMedia([]byte(sdp)); err == nil {
		t.Error("expected error for SDP without connection address")
	}
}

func TestParseMediaMediaLevelConnectionWins(t *testing.T) {
	sdp := strings.Join([]string{
		"v=0",
		"o=test 123 1 IN IP4 10.0.0.5",
		"s=-",
		"c=IN IP4 10.0.0.5",
		"t=0 0",
		"m=audio 20002 RTP/AVP 8",
		"c=IN IP4 172.16.0.9",
		"",
	}, "\r\n")

	info, err := ParseMedia([]byte(sdp))
	if err != nil {
		t.Fatalf("ParseMedia failed: %v", err)
	}
	if info.Addr != "172.16.0.9" {
		t.Errorf("Addr = %q, want media-level 172.16.0.9", info.Addr)
	}
}

func TestParseMediaEmptyBody(t *testing.T) {
	if _, err := ParseMedia(nil); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestBuildAnswerCarriesNegotiatedCodec(t *testing.T) {
	body, err := BuildAnswer("10.1.2.3", 12000, rtp.CodecPCMA)
	if err != nil {
		t.Fatalf("BuildAnswer failed: %v", err)
	}

	s := string(body)
	if !strings.Contains(s, "m=audio 12000 RTP/AVP 8 101") {
		t.Errorf("answer media line missing, got:\n%s", s)
	}
	if strings.Contains(s, "a=rtpmap:0 PCMU/8000") {
		t.Error("answer must not advertise PCMU when PCMA was negotiated")
	}
	if !strings.Contains(s, "a=rtpmap:8 PCMA/8000") {
		t.Error("answer missing PCMA rtpmap")
	}
	if !strings.Contains(s, "a=fmtp:101 0-15") {
		t.Error("answer missing telephone-event fmtp")
	}
	if !strings.Contains(s, "a=ptime:20") {
		t.Error("answer missing ptime attribute")
	}
	if !strings.Contains(s, "a=sendrecv") {
		t.Error("answer missing sendrecv attribute")
	}
}

func TestBuildOfferAdvertisesBothVariants(t *testing.T) {
	body, err := BuildOffer("10.1.2.3", 12000)
	if err != nil {
		t.Fatalf("BuildOffer failed: %v", err)
	}

	s := string(body)
	if !strings.Contains(s, "m=audio 12000 RTP/AVP 0 8 101") {
		t.Errorf("offer media line missing, got:\n%s", s)
	}
	for _, want := range []string{"a=rtpmap:0 PCMU/8000", "a=rtpmap:8 PCMA/8000", "a=rtpmap:101 telephone-event/8000"} {
		if !strings.Contains(s, want) {
			t.Errorf("offer missing %q", want)
		}
	}
}
