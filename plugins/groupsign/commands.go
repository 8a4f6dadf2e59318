package groupsign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signbot/internal/core"
)

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "groupsign add_group",
			Aliases:     []string{"gsa"},
			Description: "add a QQ group to the daily check-in list",
			Usage:       "/groupsign add_group <group_id>",
			Handle:      p.cmdAddGroup,
		},
		{
			Route:       "groupsign remove_group",
			Aliases:     []string{"gsr"},
			Description: "remove a QQ group from the daily check-in list",
			Usage:       "/groupsign remove_group <group_id>",
			Handle:      p.cmdRemoveGroup,
		},
		{
			Route:       "groupsign list_groups",
			Description: "show the configured check-in groups",
			Usage:       "/groupsign list_groups",
			Handle:      p.cmdListGroups,
		},
		{
			Route:       "groupsign execute",
			Description: "check in one group (or all groups) right now",
			Usage:       "/groupsign execute [group_id]",
			Timeout:     5 * time.Minute,
			Handle:      p.cmdExecute,
		},
		{
			Route:       "groupsign start_task",
			Description: "start the daily reminder loop",
			Usage:       "/groupsign start_task",
			Handle:      p.cmdStartTask,
		},
		{
			Route:       "groupsign stop_task",
			Description: "stop the daily reminder loop",
			Usage:       "/groupsign stop_task",
			Handle:      p.cmdStopTask,
		},
		{
			Route:       "groupsign status",
			Description: "show reminder loop state and settings",
			Usage:       "/groupsign status",
			Handle:      p.cmdStatus,
		},
	}
}

func (p *Plugin) requireAdmin(ctx context.Context, req *core.Request) bool {
	if p.isAdmin(req) {
		return true
	}
	_ = req.Reply(ctx, "🚫 admin only")
	return false
}

// requireGroupChat rejects state-changing commands issued outside a group
// conversation; list_groups and status stay unrestricted.
func (p *Plugin) requireGroupChat(ctx context.Context, req *core.Request) bool {
	if req.IsGroupChat() {
		return true
	}
	_ = req.Reply(ctx, "this command only works in a group chat")
	return false
}

func (p *Plugin) cmdAddGroup(ctx context.Context, req *core.Request) error {
	if !p.requireGroupChat(ctx, req) || !p.requireAdmin(ctx, req) {
		return nil
	}
	if len(req.Args) != 1 {
		return req.Reply(ctx, "usage: /groupsign add_group <group_id>")
	}
	id := strings.TrimSpace(req.Args[0])

	switch err := p.store.Add(id); {
	case err == nil:
		return req.Reply(ctx, fmt.Sprintf("✅ group %s added (%d total)", id, len(p.store.Groups())))
	case errors.Is(err, ErrBadGroupID):
		return req.Reply(ctx, "❌ "+ErrBadGroupID.Error())
	case errors.Is(err, ErrAlreadyPresent):
		return req.Reply(ctx, fmt.Sprintf("ℹ️ group %s is already on the list", id))
	default:
		req.Logger.Error("add group failed", "err", err)
		return req.Reply(ctx, "❌ could not save the group list: "+err.Error())
	}
}

func (p *Plugin) cmdRemoveGroup(ctx context.Context, req *core.Request) error {
	if !p.requireGroupChat(ctx, req) || !p.requireAdmin(ctx, req) {
		return nil
	}
	if len(req.Args) != 1 {
		return req.Reply(ctx, "usage: /groupsign remove_group <group_id>")
	}
	id := strings.TrimSpace(req.Args[0])

	switch err := p.store.Remove(id); {
	case err == nil:
		return req.Reply(ctx, fmt.Sprintf("✅ group %s removed (%d left)", id, len(p.store.Groups())))
	case errors.Is(err, ErrBadGroupID):
		return req.Reply(ctx, "❌ "+ErrBadGroupID.Error())
	case errors.Is(err, ErrNotPresent):
		return req.Reply(ctx, fmt.Sprintf("ℹ️ group %s is not on the list", id))
	default:
		req.Logger.Error("remove group failed", "err", err)
		return req.Reply(ctx, "❌ could not save the group list: "+err.Error())
	}
}

func (p *Plugin) cmdListGroups(ctx context.Context, req *core.Request) error {
	groups := p.store.Groups()
	if len(groups) == 0 {
		return req.Reply(ctx, "📋 no groups configured. add one with /groupsign add_group <id>")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %d group(s) on the daily check-in list:\n", len(groups))
	for i, g := range groups {
		fmt.Fprintf(&b, "%d. %s\n", i+1, g)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (p *Plugin) cmdExecute(ctx context.Context, req *core.Request) error {
	if !p.requireGroupChat(ctx, req) || !p.requireAdmin(ctx, req) {
		return nil
	}

	// Single-group form: validate shape and membership, then one check-in.
	// The daily gate is untouched either way.
	if len(req.Args) == 1 {
		id := strings.TrimSpace(req.Args[0])
		if !groupIDRe.MatchString(id) {
			return req.Reply(ctx, "❌ "+ErrBadGroupID.Error())
		}
		member := false
		for _, g := range p.store.Groups() {
			if g == id {
				member = true
				break
			}
		}
		if !member {
			return req.Reply(ctx, fmt.Sprintf("❌ group %s is not on the list. add it first with /groupsign add_group %s", id, id))
		}
		res := p.currentClient().SetGroupSign(ctx, id)
		if res.OK {
			return req.Reply(ctx, fmt.Sprintf("✅ group %s checked in", id))
		}
		return req.Reply(ctx, fmt.Sprintf("❌ group %s: %s", id, res.Detail))
	}
	if len(req.Args) > 1 {
		return req.Reply(ctx, "usage: /groupsign execute [group_id]")
	}

	groups := p.store.Groups()
	if len(groups) == 0 {
		return req.Reply(ctx, "📋 no groups configured, nothing to do")
	}
	_ = req.Reply(ctx, fmt.Sprintf("⏳ checking in %d group(s)...", len(groups)))

	results := p.task.ExecuteNow(ctx)

	var b strings.Builder
	var okCount int
	for _, r := range results {
		if r.OK {
			okCount++
			fmt.Fprintf(&b, "✅ %s\n", r.GroupID)
		} else {
			fmt.Fprintf(&b, "❌ %s: %s\n", r.GroupID, r.Detail)
		}
	}
	fmt.Fprintf(&b, "done: %d/%d ok", okCount, len(results))
	return req.Reply(ctx, b.String())
}

func (p *Plugin) cmdStartTask(ctx context.Context, req *core.Request) error {
	if !p.requireGroupChat(ctx, req) || !p.requireAdmin(ctx, req) {
		return nil
	}
	switch err := p.task.Start(p.runCtx); {
	case err == nil:
		st := p.task.Status()
		return req.Reply(ctx, fmt.Sprintf("▶️ reminder loop started (daily at %s, checking every %s)", st.ReminderTime, st.CheckInterval))
	case errors.Is(err, ErrTaskRunning):
		return req.Reply(ctx, "ℹ️ reminder loop is already running")
	default:
		return req.Reply(ctx, "❌ "+err.Error())
	}
}

func (p *Plugin) cmdStopTask(ctx context.Context, req *core.Request) error {
	if !p.requireGroupChat(ctx, req) || !p.requireAdmin(ctx, req) {
		return nil
	}
	switch err := p.task.Stop(); {
	case err == nil:
		return req.Reply(ctx, "⏹ reminder loop stopped")
	case errors.Is(err, ErrTaskNotRunning):
		return req.Reply(ctx, "ℹ️ reminder loop is not running")
	default:
		return req.Reply(ctx, "❌ "+err.Error())
	}
}

func (p *Plugin) cmdStatus(ctx context.Context, req *core.Request) error {
	st := p.task.Status()
	cli := p.currentClient()

	state := "stopped"
	if st.Running {
		state = "running"
	}
	fired := "not yet today"
	if st.FiredToday {
		fired = "already fired today"
	}

	var b strings.Builder
	b.WriteString("📊 group check-in status\n")
	fmt.Fprintf(&b, "loop: %s\n", state)
	fmt.Fprintf(&b, "daily time: %s (%s)\n", st.ReminderTime, fired)
	fmt.Fprintf(&b, "check interval: %s\n", st.CheckInterval)
	fmt.Fprintf(&b, "groups: %d\n", st.Groups)
	if st.LastFiredDate != "" {
		fmt.Fprintf(&b, "last active date: %s\n", st.LastFiredDate)
	}
	fmt.Fprintf(&b, "api: %s", cli.BaseURL())
	return req.Reply(ctx, b.String())
}
