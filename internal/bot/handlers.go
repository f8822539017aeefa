package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/p-blackswan/idlewatch/internal/activity"
	"github.com/p-blackswan/idlewatch/internal/transport"
)

// Enumeration caps for list replies.
const (
	idleListCap   = 10
	removeListCap = 5
)

// handleTrack records sender activity. It applies to every attributed
// message regardless of what other handlers do with it.
func (d *Dispatcher) handleTrack(_ context.Context, _ transport.Message, sender string) string {
	d.store.Touch(sender)
	if d.metrics != nil {
		d.metrics.MessagesTracked.Inc()
	}
	return ""
}

func (d *Dispatcher) idleMembers() []activity.Record {
	thresholdDays, protected := d.cfg.Policy()
	return activity.IdleMembers(d.store.All(), activity.Policy{
		ThresholdDays: thresholdDays,
		Protected:     protected,
	}, d.now())
}

func (d *Dispatcher) handleIdle(_ context.Context, _ transport.Message, _ string) string {
	idle := d.idleMembers()
	thresholdDays := d.cfg.ThresholdDays()

	if len(idle) == 0 {
		return fmt.Sprintf("✅ No idle users found (threshold: %d days)", thresholdDays)
	}

	now := d.now()
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Found %d idle users (>%d days):\n\n", len(idle), thresholdDays)

	for i, r := range idle {
		if i == idleListCap {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Identifier)
		fmt.Fprintf(&b, "   Last seen: %s\n", r.LastSeen.Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, "   Days idle: %d\n", r.DaysIdle(now))
		fmt.Fprintf(&b, "   Messages: %d\n\n", r.MessageCount)
	}
	if len(idle) > idleListCap {
		fmt.Fprintf(&b, "... and %d more users\n", len(idle)-idleListCap)
	}

	b.WriteString("\nUse `!remove-idle` to remove these users")
	if d.cfg.DryRun() {
		b.WriteString(" (dry-run mode enabled)")
	}
	return b.String()
}

func (d *Dispatcher) handleRemoveIdle(_ context.Context, _ transport.Message, _ string) string {
	idle := d.idleMembers()
	if len(idle) == 0 {
		return "✅ No idle users to remove."
	}

	now := d.now()
	var b strings.Builder

	if d.cfg.DryRun() {
		fmt.Fprintf(&b, "🔍 DRY RUN: Would remove %d idle users:\n\n", len(idle))
		writeRemovalList(&b, idle, now)
		b.WriteString("\nNo action was taken (dry-run mode). Use `!config dry_run false` to disable.")
		return b.String()
	}

	// Removal execution belongs to the messaging transport; the engine's
	// contract ends at the authoritative candidate list.
	fmt.Fprintf(&b, "🗑 %d idle users selected for removal:\n\n", len(idle))
	writeRemovalList(&b, idle, now)
	b.WriteString("\nRemoval execution is delegated to the messaging transport.")
	return b.String()
}

func writeRemovalList(b *strings.Builder, idle []activity.Record, now time.Time) {
	for i, r := range idle {
		if i == removeListCap {
			break
		}
		fmt.Fprintf(b, "• %s (%d days idle)\n", r.Identifier, r.DaysIdle(now))
	}
	if len(idle) > removeListCap {
		fmt.Fprintf(b, "... and %d more\n", len(idle)-removeListCap)
	}
}

func (d *Dispatcher) handleStats(_ context.Context, _ transport.Message, _ string) string {
	total := d.store.Len()
	if total == 0 {
		return "📊 No activity data available yet."
	}

	idle := len(d.idleMembers())
	active := total - idle

	// Separate recency window, not the idle threshold.
	now := d.now()
	recent := 0
	for r := range d.store.All() {
		if r.DaysIdle(now) <= 7 {
			recent++
		}
	}

	var b strings.Builder
	b.WriteString("📊 Group Activity Statistics\n\n")
	fmt.Fprintf(&b, "👥 Total tracked users: %d\n", total)
	fmt.Fprintf(&b, "✅ Active users: %d\n", active)
	fmt.Fprintf(&b, "💤 Idle users: %d\n", idle)
	fmt.Fprintf(&b, "🔥 Active last 7 days: %d\n\n", recent)
	b.WriteString("⚙️ Current settings:\n")
	fmt.Fprintf(&b, "• Idle threshold: %d days\n", d.cfg.ThresholdDays())
	fmt.Fprintf(&b, "• Protected users: %d\n", d.cfg.ProtectedCount())
	fmt.Fprintf(&b, "• Dry run mode: %s\n", onOff(d.cfg.DryRun()))
	return b.String()
}

func (d *Dispatcher) handleConfig(_ context.Context, m transport.Message, _ string) string {
	parts := strings.Fields(m.Text)

	if len(parts) == 1 {
		var b strings.Builder
		b.WriteString("⚙️ Current Configuration:\n\n")
		fmt.Fprintf(&b, "• Idle threshold: %d days\n", d.cfg.ThresholdDays())
		fmt.Fprintf(&b, "• Dry run mode: %s\n", onOff(d.cfg.DryRun()))
		fmt.Fprintf(&b, "• Protected users: %d\n", d.cfg.ProtectedCount())
		fmt.Fprintf(&b, "• Admin numbers: %d\n\n", d.cfg.AdminCount())
		b.WriteString("Use `!config <setting> <value>` to update settings")
		return b.String()
	}

	if len(parts) != 3 {
		return "Usage: `!config` or `!config <setting> <value>`"
	}

	setting, value := parts[1], parts[2]
	switch setting {
	case "threshold":
		days, err := strconv.Atoi(value)
		if err != nil || days <= 0 {
			return "❌ Invalid number for threshold (must be a positive integer)"
		}
		d.cfg.SetThresholdDays(days)
		d.logger.Info().Int("days", days).Msg("idle threshold updated")
		return fmt.Sprintf("✅ Idle threshold set to %d days", days)

	case "dry_run":
		switch strings.ToLower(value) {
		case "true", "on", "1", "yes":
			d.cfg.SetDryRun(true)
			d.logger.Info().Bool("dry_run", true).Msg("dry-run mode updated")
			return "✅ Dry run mode enabled"
		case "false", "off", "0", "no":
			d.cfg.SetDryRun(false)
			d.logger.Info().Bool("dry_run", false).Msg("dry-run mode updated")
			return "✅ Dry run mode disabled"
		default:
			return "❌ Use 'true' or 'false' for dry_run"
		}

	default:
		return "❌ Unknown setting. Available: threshold, dry_run"
	}
}

func (d *Dispatcher) handleHelp(_ context.Context, _ transport.Message, sender string) string {
	var b strings.Builder
	b.WriteString("🤖 Signal Idle User Bot - Commands:\n\n")

	admin := d.cfg.IsAdmin(sender)
	if admin {
		b.WriteString("👑 Admin Commands:\n")
		b.WriteString("• `!idle` - Check for idle users\n")
		b.WriteString("• `!remove-idle` - Remove idle users\n")
		b.WriteString("• `!stats` - Show activity statistics\n")
		b.WriteString("• `!config` - Show/update configuration\n")
		b.WriteString("• `!config threshold <days>` - Set idle threshold\n")
		b.WriteString("• `!config dry_run <true/false>` - Toggle dry run mode\n\n")
	}

	b.WriteString("ℹ️ General Commands:\n")
	b.WriteString("• `!help` - Show this help message\n")

	if !admin {
		b.WriteString("\nNote: Most commands require admin privileges.")
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "On"
	}
	return "Off"
}
