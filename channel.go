package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ChannelType is the closed set of channel kinds, classified once at subscribe
// time and carried on the membership record rather than re-derived from the
// name on every event.
type ChannelType int

const (
	ChannelPublic ChannelType = iota
	ChannelPrivate
	ChannelPresence
)

const (
	privatePrefix  = "private-"
	presencePrefix = "presence-"
)

// ErrAuthFailed covers every private/presence signature failure: missing auth,
// wrong-length hex, or MAC mismatch. C4 surfaces all of them as the same
// pusher:error 4009 without closing the connection.
var ErrAuthFailed = errors.New("channel auth failed")

// classifyChannel derives the channel type from its name prefix.
func classifyChannel(name string) ChannelType {
	switch {
	case strings.HasPrefix(name, presencePrefix):
		return ChannelPresence
	case strings.HasPrefix(name, privatePrefix):
		return ChannelPrivate
	default:
		return ChannelPublic
	}
}

// verifyPrivateAuth checks HMAC-SHA256(secret, socketID+":"+channel) against
// the lowercase hex authHex, in constant time.
func verifyPrivateAuth(secret, socketID, channel, authHex string) error {
	sig := signString(secret, socketID+":"+channel)
	return compareHexMAC(sig, authHex)
}

// verifyPresenceAuth checks HMAC-SHA256(secret, socketID+":"+channel+":"+channelData)
// against the lowercase hex authHex. channelData must be compared byte-for-byte
// as the client sent it, never re-serialized.
func verifyPresenceAuth(secret, socketID, channel, channelData, authHex string) error {
	sig := signString(secret, socketID+":"+channel+":"+channelData)
	return compareHexMAC(sig, authHex)
}

func signString(secret, msg string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func compareHexMAC(expected []byte, authHex string) error {
	if len(authHex) != hex.EncodedLen(len(expected)) {
		return ErrAuthFailed
	}
	got, err := hex.DecodeString(authHex)
	if err != nil {
		return ErrAuthFailed
	}
	if subtle.ConstantTimeCompare(expected, got) != 1 {
		return ErrAuthFailed
	}
	return nil
}
