package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid set-interests message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SetInterests(t *testing.T) {
	input := []byte(`{"type":"set-interests","data":{"interests":["Music","Gaming","Art"]}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSetInterests {
		t.Fatalf("expected type %q, got %q", TypeSetInterests, msgType)
	}

	si, ok := msg.(SetInterestsData)
	if !ok {
		t.Fatalf("expected SetInterestsData, got %T", msg)
	}
	expected := []string{"Music", "Gaming", "Art"}
	if len(si.Interests) != len(expected) {
		t.Fatalf("expected %d interests, got %d", len(expected), len(si.Interests))
	}
	for i, v := range expected {
		if si.Interests[i] != v {
			t.Errorf("interest[%d]: expected %q, got %q", i, v, si.Interests[i])
		}
	}
}

func TestParseClientMessage_TooManyInterests(t *testing.T) {
	input := []byte(`{"type":"set-interests","data":{"interests":["a","b","c","d","e","f"]}}`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for more than 5 interests")
	}
}

// ---------------------------------------------------------------------------
// Test: find-match has no payload
// ---------------------------------------------------------------------------

func TestParseClientMessage_FindMatch(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"find-match"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeFindMatch {
		t.Fatalf("expected type %q, got %q", TypeFindMatch, msgType)
	}
	if msg != nil {
		t.Fatalf("expected nil payload, got %T", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Message(t *testing.T) {
	input := []byte(`{"type":"message","data":{"content":"Hello!"}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(MessageData)
	if !ok {
		t.Fatalf("expected MessageData, got %T", msg)
	}
	if cm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", cm.Content)
	}
}

func TestParseClientMessage_EmptyMessageRejected(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"message","data":{"content":""}}`))
	if err == nil {
		t.Fatal("expected error for empty message content")
	}
}

func TestParseClientMessage_OversizedMessageRejected(t *testing.T) {
	content := strings.Repeat("x", MaxMessageChars+1)
	input, _ := json.Marshal(map[string]interface{}{
		"type": "message",
		"data": map[string]string{"content": content},
	})

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for oversized message content")
	}
}

// ---------------------------------------------------------------------------
// Test: end with and without requeue
// ---------------------------------------------------------------------------

func TestParseClientMessage_End(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		requeue bool
	}{
		{"no data", `{"type":"end"}`, false},
		{"requeue false", `{"type":"end","data":{"requeue":false}}`, false},
		{"requeue true", `{"type":"end","data":{"requeue":true}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != TypeEnd {
				t.Fatalf("expected type %q, got %q", TypeEnd, msgType)
			}
			ed, ok := msg.(EndData)
			if !ok {
				t.Fatalf("expected EndData, got %T", msg)
			}
			if ed.Requeue != tt.requeue {
				t.Errorf("expected requeue=%v, got %v", tt.requeue, ed.Requeue)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: signaling payloads are preserved byte-for-byte
// ---------------------------------------------------------------------------

func TestParseClientMessage_OfferIsOpaque(t *testing.T) {
	payload := `{"sdp":"v=0\r\no=- 12345","type":"offer","weird":[1,null,{"x":true}]}`
	input := []byte(`{"type":"offer","data":` + payload + `}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeOffer {
		t.Fatalf("expected type %q, got %q", TypeOffer, msgType)
	}

	sig, ok := msg.(SignalData)
	if !ok {
		t.Fatalf("expected SignalData, got %T", msg)
	}
	if !bytes.Equal(sig.Raw, []byte(payload)) {
		t.Errorf("signaling payload was altered:\n  in:  %s\n  out: %s", payload, sig.Raw)
	}

	// Rebuilding the relay envelope must carry the payload unchanged.
	relayed, err := NewRelayMessage(msgType, sig.Raw)
	if err != nil {
		t.Fatalf("NewRelayMessage error: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(relayed, &env); err != nil {
		t.Fatalf("relayed envelope does not parse: %v", err)
	}
	if env.Type != TypeOffer {
		t.Errorf("relayed type = %q, want %q", env.Type, TypeOffer)
	}
	if !bytes.Equal(env.Data, []byte(payload)) {
		t.Errorf("relayed payload was altered: %s", env.Data)
	}
}

// ---------------------------------------------------------------------------
// Test: report-user validation
// ---------------------------------------------------------------------------

func TestParseClientMessage_ReportUser(t *testing.T) {
	input := []byte(`{"type":"report-user","data":{"reportedUserId":"u-42","reason":"spam"}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeReportUser {
		t.Fatalf("expected type %q, got %q", TypeReportUser, msgType)
	}

	rm, ok := msg.(ReportUserData)
	if !ok {
		t.Fatalf("expected ReportUserData, got %T", msg)
	}
	if rm.ReportedUserID != "u-42" || rm.Reason != "spam" {
		t.Errorf("unexpected report payload: %+v", rm)
	}
}

func TestParseClientMessage_ReportUserMissingTarget(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"report-user","data":{"reason":"spam"}}`))
	if err == nil {
		t.Fatal("expected error for report without reportedUserId")
	}
}

// ---------------------------------------------------------------------------
// Test: malformed input
// ---------------------------------------------------------------------------

func TestParseClientMessage_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `this is not json`},
		{"missing type", `{"data":{"content":"hi"}}`},
		{"unknown type", `{"type":"self-destruct"}`},
		{"server-only type", `{"type":"match"}`},
		{"wrong data shape", `{"type":"typing","data":"yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tt.input)); err == nil {
				t.Errorf("expected error for input %s", tt.input)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: server message construction
// ---------------------------------------------------------------------------

func TestNewServerMessage_Match(t *testing.T) {
	data, err := NewServerMessage(TypeMatch, MatchData{
		SessionID: "sess-1",
		Initiator: true,
		IsBot:     false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeMatch {
		t.Errorf("expected type %q, got %v", TypeMatch, decoded["type"])
	}
	inner, ok := decoded["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data object, got %T", decoded["data"])
	}
	if inner["sessionId"] != "sess-1" {
		t.Errorf("expected sessionId sess-1, got %v", inner["sessionId"])
	}
	if inner["initiator"] != true {
		t.Errorf("expected initiator=true, got %v", inner["initiator"])
	}
	if _, present := inner["isBot"]; present {
		t.Errorf("isBot=false should be omitted, got %v", inner["isBot"])
	}
}

func TestNewServerMessage_NoPayload(t *testing.T) {
	data, err := NewServerMessage(TypePartnerDisconnected, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"partner-disconnected"}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}
