// Package core contains the domain types and interfaces shared between the
// call engine and its adapters. No transport or media logic lives here.
package core

import (
	"errors"
	"fmt"
)

const (
	MaxUserIDLen   = 36
	MaxDeviceIDLen = 36
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrDeviceIDEmpty = errors.New("device id empty")
)

type (
	UserID   string
	DeviceID string
	CallID   string
	// PeerID identifies a single peer connection. Generated locally by the
	// side that creates the connection, echoed back in answers and candidates.
	PeerID string
)

// MemberAddr addresses one remote participant: a user on a specific device.
type MemberAddr struct {
	User   UserID   `json:"user"`
	Device DeviceID `json:"device"`
}

func NewMemberAddr(user UserID, device DeviceID) (MemberAddr, error) {
	if user == "" {
		return MemberAddr{}, ErrUserIDEmpty
	}
	if device == "" {
		return MemberAddr{}, ErrDeviceIDEmpty
	}
	return MemberAddr{User: user, Device: device}, nil
}

func (a MemberAddr) IsZero() bool { return a.User == "" && a.Device == "" }

func (a MemberAddr) String() string {
	return fmt.Sprintf("%s/%s", a.User, a.Device)
}

// JoinType declares what the local side intends to send into a call.
type JoinType string

const (
	JoinTypeAudio JoinType = "audio"
	JoinTypeVideo JoinType = "video"
)

// MediaKind is the kind of a single track or transceiver.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)
