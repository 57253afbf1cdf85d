package domain

import (
	"errors"
	"strings"
)

const MaxChannelNameLen = 64

var (
	ErrChannelEmpty   = errors.New("channel name empty")
	ErrChannelTooLong = errors.New("channel name too long")
)

type ChannelName string

// NewChannelName trims surrounding whitespace and rejects empty or oversized names.
func NewChannelName(raw string) (ChannelName, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrChannelEmpty
	}
	if len(name) > MaxChannelNameLen {
		return "", ErrChannelTooLong
	}
	return ChannelName(name), nil
}

type Channel struct {
	Name ChannelName
}
