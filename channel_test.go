package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestClassifyChannel(t *testing.T) {
	cases := []struct {
		name string
		want ChannelType
	}{
		{"news", ChannelPublic},
		{"private-room", ChannelPrivate},
		{"presence-chat", ChannelPresence},
		{"private-presence-room", ChannelPrivate}, // only the leading prefix counts
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyChannel(tc.name); got != tc.want {
				t.Errorf("classifyChannel(%q) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func hmacHex(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyPrivateAuth(t *testing.T) {
	secret := "s3cret"
	socketID := "abc123"
	channel := "private-room"
	auth := hmacHex(secret, socketID+":"+channel)

	if err := verifyPrivateAuth(secret, socketID, channel, auth); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}

	flipped := []byte(auth)
	last := flipped[len(flipped)-1]
	if last == '0' {
		flipped[len(flipped)-1] = '1'
	} else {
		flipped[len(flipped)-1] = '0'
	}
	if err := verifyPrivateAuth(secret, socketID, channel, string(flipped)); err == nil {
		t.Fatal("expected signature with its last hex digit changed to fail verification")
	}

	if err := verifyPrivateAuth(secret, socketID, channel, ""); err == nil {
		t.Fatal("expected empty auth to fail verification")
	}

	if err := verifyPrivateAuth(secret, socketID, channel, auth[:len(auth)-2]); err == nil {
		t.Fatal("expected wrong-length hex to fail verification")
	}
}

func TestVerifyPresenceAuth(t *testing.T) {
	secret := "s3cret"
	socketID := "A"
	channel := "presence-chat"
	channelData := `{"user_id":"u1","user_info":{"n":"Alice"}}`
	auth := hmacHex(secret, socketID+":"+channel+":"+channelData)

	if err := verifyPresenceAuth(secret, socketID, channel, channelData, auth); err != nil {
		t.Fatalf("expected valid presence signature to verify, got %v", err)
	}

	// Re-serializing channel_data (e.g. reordering keys) must not verify against
	// a signature computed over the original bytes.
	reserialized := `{"user_info":{"n":"Alice"},"user_id":"u1"}`
	if err := verifyPresenceAuth(secret, socketID, channel, reserialized, auth); err == nil {
		t.Fatal("expected re-serialized channel_data to fail verification")
	}
}
