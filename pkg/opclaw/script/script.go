// Package script runs synthesized action programs.
//
// A program is a JSON document listing calls against three fixed bindings:
//
//	message  the operator message that triggered the program
//	client   guild administration on the platform
//	discord  reference resolution (IDs, mentions, names) and channel types
//
// Programs never carry executable code. Every call must belong to the
// vocabulary in vocabulary.go; anything else is rejected before execution.
package script

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ChannelType is the kind of channel created by client.createChannel.
type ChannelType string

const (
	ChannelText         ChannelType = "text"
	ChannelVoice        ChannelType = "voice"
	ChannelCategory     ChannelType = "category"
	ChannelAnnouncement ChannelType = "announcement"
	ChannelStage        ChannelType = "stage"
	ChannelForum        ChannelType = "forum"
)

// ChannelTypes lists every channel type known to the discord binding.
var ChannelTypes = []ChannelType{
	ChannelText, ChannelVoice, ChannelCategory, ChannelAnnouncement, ChannelStage, ChannelForum,
}

// ParseChannelType maps a name to a ChannelType. Empty means text.
func ParseChannelType(s string) (ChannelType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ChannelText, nil
	}
	switch s {
	case "news":
		return ChannelAnnouncement, nil
	case "stage_voice", "stagevoice":
		return ChannelStage, nil
	}
	for _, t := range ChannelTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown channel type %q", s)
}

// Result is the value produced by a step. Later steps reference its fields
// with ${name.field}.
type Result map[string]any

// ChannelSpec describes a channel to create.
type ChannelSpec struct {
	Name     string
	Type     ChannelType
	Topic    string
	ParentID string
}

// ChannelEdit describes a channel update. Nil fields are left unchanged.
type ChannelEdit struct {
	Name  *string
	Topic *string
}

// RoleSpec describes a role to create.
type RoleSpec struct {
	Name        string
	Color       int
	Mentionable bool
}

// Channel is a created or edited channel.
type Channel struct {
	ID   string
	Name string
	Type ChannelType
}

// Message is a sent message.
type Message struct {
	ID        string
	ChannelID string
}

// Role is a created role.
type Role struct {
	ID   string
	Name string
}

// Guild summarizes a server.
type Guild struct {
	ID          string
	Name        string
	OwnerID     string
	MemberCount int
	Channels    int
	Roles       int
}

// Client is the administrative surface exposed to programs.
type Client interface {
	SendMessage(ctx context.Context, channelID, content string) (*Message, error)
	CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (*Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	EditChannel(ctx context.Context, channelID string, edit ChannelEdit) (*Channel, error)
	PurgeMessages(ctx context.Context, channelID string, count int) (int, error)
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error
	Unban(ctx context.Context, guildID, userID string) error
	Timeout(ctx context.Context, guildID, userID string, until time.Time) error
	SetNickname(ctx context.Context, guildID, userID, nickname string) error
	CreateRole(ctx context.Context, guildID string, spec RoleSpec) (*Role, error)
	DeleteRole(ctx context.Context, guildID, roleID string) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	GuildInfo(ctx context.Context, guildID string) (*Guild, error)
}

// MessageContext is the triggering message.
type MessageContext interface {
	ID() string
	ChannelID() string
	GuildID() string
	AuthorID() string
	Reply(ctx context.Context, content string) (*Message, error)
	React(ctx context.Context, emoji string) error
}

// Namespace resolves user-facing references to platform IDs.
type Namespace interface {
	ResolveChannel(ctx context.Context, guildID, ref string) (string, error)
	ResolveMember(ctx context.Context, guildID, ref string) (string, error)
	ResolveRole(ctx context.Context, guildID, ref string) (string, error)
}

// Bindings are the three handles a program runs against, in fixed order.
type Bindings struct {
	Client  Client
	Message MessageContext
	Discord Namespace
}

// Validate reports a missing binding.
func (b Bindings) Validate() error {
	switch {
	case b.Client == nil:
		return fmt.Errorf("binding client is not set")
	case b.Message == nil:
		return fmt.Errorf("binding message is not set")
	case b.Discord == nil:
		return fmt.Errorf("binding discord is not set")
	}
	return nil
}
