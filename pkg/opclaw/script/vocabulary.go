package script

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// callSpec describes one vocabulary entry.
type callSpec struct {
	required []string
	optional []string
	doc      string
	run      func(ctx context.Context, env *env, a args) (Result, error)
}

func (c callSpec) accepts(name string) bool {
	for _, n := range c.required {
		if n == name {
			return true
		}
	}
	for _, n := range c.optional {
		if n == name {
			return true
		}
	}
	return false
}

// env is the per-execution state shared by every step.
type env struct {
	b       Bindings
	guildID string
}

var vocabulary = map[string]callSpec{
	"message.reply": {
		required: []string{"content"},
		doc:      "reply to the operator message",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			m, err := e.b.Message.Reply(ctx, a.str("content"))
			if err != nil {
				return nil, err
			}
			return messageResult(m), nil
		},
	},
	"message.react": {
		required: []string{"emoji"},
		doc:      "add a reaction to the operator message",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			return Result{}, e.b.Message.React(ctx, a.str("emoji"))
		},
	},

	"client.send": {
		required: []string{"channel", "content"},
		doc:      "send a message to a channel",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			ch, err := e.b.Discord.ResolveChannel(ctx, e.guildID, a.str("channel"))
			if err != nil {
				return nil, err
			}
			m, err := e.b.Client.SendMessage(ctx, ch, a.str("content"))
			if err != nil {
				return nil, err
			}
			return messageResult(m), nil
		},
	},
	"client.createChannel": {
		required: []string{"name"},
		optional: []string{"type", "topic", "parent"},
		doc:      "create a channel; type is one of text, voice, category, announcement, stage, forum",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			typ, err := ParseChannelType(a.str("type"))
			if err != nil {
				return nil, err
			}
			spec := ChannelSpec{Name: a.str("name"), Type: typ, Topic: a.str("topic")}
			if parent := a.str("parent"); parent != "" {
				if spec.ParentID, err = e.b.Discord.ResolveChannel(ctx, e.guildID, parent); err != nil {
					return nil, err
				}
			}
			ch, err := e.b.Client.CreateChannel(ctx, e.guildID, spec)
			if err != nil {
				return nil, err
			}
			return channelResult(ch), nil
		},
	},
	"client.deleteChannel": {
		required: []string{"channel"},
		doc:      "delete a channel",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			ch, err := e.b.Discord.ResolveChannel(ctx, e.guildID, a.str("channel"))
			if err != nil {
				return nil, err
			}
			return Result{"id": ch}, e.b.Client.DeleteChannel(ctx, ch)
		},
	},
	"client.renameChannel": {
		required: []string{"channel", "name"},
		doc:      "rename a channel",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			ch, err := e.b.Discord.ResolveChannel(ctx, e.guildID, a.str("channel"))
			if err != nil {
				return nil, err
			}
			name := a.str("name")
			out, err := e.b.Client.EditChannel(ctx, ch, ChannelEdit{Name: &name})
			if err != nil {
				return nil, err
			}
			return channelResult(out), nil
		},
	},
	"client.setTopic": {
		required: []string{"channel", "topic"},
		doc:      "set a channel topic",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			ch, err := e.b.Discord.ResolveChannel(ctx, e.guildID, a.str("channel"))
			if err != nil {
				return nil, err
			}
			topic := a.str("topic")
			out, err := e.b.Client.EditChannel(ctx, ch, ChannelEdit{Topic: &topic})
			if err != nil {
				return nil, err
			}
			return channelResult(out), nil
		},
	},
	"client.purge": {
		required: []string{"count"},
		optional: []string{"channel"},
		doc:      "bulk delete the latest 1-100 messages; channel defaults to the current one",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			count, err := a.intIn("count", 1, 100)
			if err != nil {
				return nil, err
			}
			ch := e.b.Message.ChannelID()
			if ref := a.str("channel"); ref != "" {
				if ch, err = e.b.Discord.ResolveChannel(ctx, e.guildID, ref); err != nil {
					return nil, err
				}
			}
			n, err := e.b.Client.PurgeMessages(ctx, ch, count)
			if err != nil {
				return nil, err
			}
			return Result{"deleted": n, "channelId": ch}, nil
		},
	},
	"client.kick": {
		required: []string{"member"},
		optional: []string{"reason"},
		doc:      "kick a member",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			uid, err := e.b.Discord.ResolveMember(ctx, e.guildID, a.str("member"))
			if err != nil {
				return nil, err
			}
			return Result{"id": uid}, e.b.Client.Kick(ctx, e.guildID, uid, a.str("reason"))
		},
	},
	"client.ban": {
		required: []string{"member"},
		optional: []string{"reason", "deleteDays"},
		doc:      "ban a member; deleteDays 0-7 removes their recent messages",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			uid, err := e.b.Discord.ResolveMember(ctx, e.guildID, a.str("member"))
			if err != nil {
				return nil, err
			}
			days := 0
			if a.has("deleteDays") {
				if days, err = a.intIn("deleteDays", 0, 7); err != nil {
					return nil, err
				}
			}
			return Result{"id": uid}, e.b.Client.Ban(ctx, e.guildID, uid, a.str("reason"), days)
		},
	},
	"client.unban": {
		required: []string{"member"},
		doc:      "lift a ban by user ID or mention",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			uid, err := e.b.Discord.ResolveMember(ctx, e.guildID, a.str("member"))
			if err != nil {
				return nil, err
			}
			return Result{"id": uid}, e.b.Client.Unban(ctx, e.guildID, uid)
		},
	},
	"client.timeout": {
		required: []string{"member", "minutes"},
		doc:      "time out a member for 1-40320 minutes",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			uid, err := e.b.Discord.ResolveMember(ctx, e.guildID, a.str("member"))
			if err != nil {
				return nil, err
			}
			minutes, err := a.intIn("minutes", 1, 40320)
			if err != nil {
				return nil, err
			}
			until := time.Now().Add(time.Duration(minutes) * time.Minute)
			if err := e.b.Client.Timeout(ctx, e.guildID, uid, until); err != nil {
				return nil, err
			}
			return Result{"id": uid, "until": until.UTC().Format(time.RFC3339)}, nil
		},
	},
	"client.setNickname": {
		required: []string{"member", "nickname"},
		doc:      "change a member nickname; empty resets it",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			uid, err := e.b.Discord.ResolveMember(ctx, e.guildID, a.str("member"))
			if err != nil {
				return nil, err
			}
			return Result{"id": uid}, e.b.Client.SetNickname(ctx, e.guildID, uid, a.str("nickname"))
		},
	},
	"client.createRole": {
		required: []string{"name"},
		optional: []string{"color", "mentionable"},
		doc:      "create a role; color is #rrggbb or a number",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			color, err := a.color("color")
			if err != nil {
				return nil, err
			}
			r, err := e.b.Client.CreateRole(ctx, e.guildID, RoleSpec{
				Name:        a.str("name"),
				Color:       color,
				Mentionable: a.boolean("mentionable"),
			})
			if err != nil {
				return nil, err
			}
			return Result{"id": r.ID, "name": r.Name}, nil
		},
	},
	"client.deleteRole": {
		required: []string{"role"},
		doc:      "delete a role",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			rid, err := e.b.Discord.ResolveRole(ctx, e.guildID, a.str("role"))
			if err != nil {
				return nil, err
			}
			return Result{"id": rid}, e.b.Client.DeleteRole(ctx, e.guildID, rid)
		},
	},
	"client.addRole": {
		required: []string{"member", "role"},
		doc:      "give a role to a member",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			return memberRole(ctx, e, a, e.b.Client.AddRole)
		},
	},
	"client.removeRole": {
		required: []string{"member", "role"},
		doc:      "take a role from a member",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			return memberRole(ctx, e, a, e.b.Client.RemoveRole)
		},
	},
	"client.guildInfo": {
		doc: "summarize the current server",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			g, err := e.b.Client.GuildInfo(ctx, e.guildID)
			if err != nil {
				return nil, err
			}
			return Result{
				"id":          g.ID,
				"name":        g.Name,
				"ownerId":     g.OwnerID,
				"memberCount": g.MemberCount,
				"channels":    g.Channels,
				"roles":       g.Roles,
			}, nil
		},
	},

	"discord.resolveChannel": {
		required: []string{"ref"},
		doc:      "resolve a channel ID, mention or name",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			id, err := e.b.Discord.ResolveChannel(ctx, e.guildID, a.str("ref"))
			if err != nil {
				return nil, err
			}
			return Result{"id": id}, nil
		},
	},
	"discord.resolveMember": {
		required: []string{"ref"},
		doc:      "resolve a member ID, mention or name",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			id, err := e.b.Discord.ResolveMember(ctx, e.guildID, a.str("ref"))
			if err != nil {
				return nil, err
			}
			return Result{"id": id}, nil
		},
	},
	"discord.resolveRole": {
		required: []string{"ref"},
		doc:      "resolve a role ID, mention or name",
		run: func(ctx context.Context, e *env, a args) (Result, error) {
			id, err := e.b.Discord.ResolveRole(ctx, e.guildID, a.str("ref"))
			if err != nil {
				return nil, err
			}
			return Result{"id": id}, nil
		},
	},
}

func memberRole(ctx context.Context, e *env, a args, apply func(context.Context, string, string, string) error) (Result, error) {
	uid, err := e.b.Discord.ResolveMember(ctx, e.guildID, a.str("member"))
	if err != nil {
		return nil, err
	}
	rid, err := e.b.Discord.ResolveRole(ctx, e.guildID, a.str("role"))
	if err != nil {
		return nil, err
	}
	if err := apply(ctx, e.guildID, uid, rid); err != nil {
		return nil, err
	}
	return Result{"memberId": uid, "roleId": rid}, nil
}

func messageResult(m *Message) Result {
	if m == nil {
		return Result{}
	}
	return Result{"id": m.ID, "channelId": m.ChannelID}
}

func channelResult(ch *Channel) Result {
	if ch == nil {
		return Result{}
	}
	return Result{"id": ch.ID, "name": ch.Name, "type": string(ch.Type)}
}

func lookup(call string) (callSpec, error) {
	binding, name, ok := strings.Cut(call, ".")
	if !ok || name == "" {
		return callSpec{}, fmt.Errorf("call %q must be <binding>.<name>", call)
	}
	switch binding {
	case "message", "client", "discord":
	default:
		return callSpec{}, fmt.Errorf("unknown binding %q", binding)
	}
	spec, ok := vocabulary[call]
	if !ok {
		return callSpec{}, fmt.Errorf("unknown call %q", call)
	}
	return spec, nil
}

// Vocabulary renders the call list for the synthesis prompt.
func Vocabulary() string {
	names := make([]string, 0, len(vocabulary))
	for name := range vocabulary {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		spec := vocabulary[name]
		params := append([]string{}, spec.required...)
		for _, o := range spec.optional {
			params = append(params, o+"?")
		}
		fmt.Fprintf(&b, "- %s{%s}: %s\n", name, strings.Join(params, ", "), spec.doc)
	}
	return b.String()
}

// args wraps resolved step arguments with typed accessors.
type args map[string]any

func (a args) has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a args) str(name string) string {
	switch v := a[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (a args) boolean(name string) bool {
	switch v := a[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func (a args) number(name string) (float64, error) {
	switch v := a[name].(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number, got %q", name, v)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("%s is required", name)
	default:
		return 0, fmt.Errorf("%s must be a number", name)
	}
}

func (a args) intIn(name string, lo, hi int) (int, error) {
	f, err := a.number(name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%s must be a whole number", name)
	}
	n := int(f)
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, n)
	}
	return n, nil
}

func (a args) color(name string) (int, error) {
	if !a.has(name) {
		return 0, nil
	}
	if s, ok := a[name].(string); ok {
		s = strings.TrimPrefix(strings.TrimSpace(s), "#")
		s = strings.TrimPrefix(s, "0x")
		c, err := strconv.ParseInt(s, 16, 32)
		if err != nil || c < 0 || c > 0xFFFFFF {
			return 0, fmt.Errorf("%s must be a hex color like #ff8800", name)
		}
		return int(c), nil
	}
	return a.intIn(name, 0, 0xFFFFFF)
}
