package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/idlewatch/internal/activity"
	"github.com/p-blackswan/idlewatch/internal/config"
	"github.com/p-blackswan/idlewatch/internal/transport"
)

func TestIdle_NoIdleMembers(t *testing.T) {
	d, mock, _, _ := newTestBot(t, map[string]activity.Record{
		memberID: record(memberID, 2, 10),
	}, config.File{})

	dispatch(d, adminID, "!idle")

	assert.Equal(t, "✅ No idle users found (threshold: 30 days)", mock.LastReply())
}

func TestIdle_ListsStalestFirst(t *testing.T) {
	d, mock, _, _ := newTestBot(t, map[string]activity.Record{
		"+2": record("+2", 35, 4),
		"+3": record("+3", 60, 7),
		"+4": record("+4", 1, 2),
	}, config.File{})

	dispatch(d, adminID, "!idle")

	reply := mock.LastReply()
	assert.Contains(t, reply, "Found 2 idle users (>30 days)")
	assert.Less(t, strings.Index(reply, "+3"), strings.Index(reply, "+2"),
		"60-day member sorts before 35-day member")
	assert.Contains(t, reply, "Days idle: 60")
	assert.Contains(t, reply, "Messages: 7")
	assert.Contains(t, reply, "`!remove-idle`")
	assert.Contains(t, reply, "(dry-run mode enabled)")
}

func TestIdle_CapsEnumerationAtTen(t *testing.T) {
	records := make(map[string]activity.Record)
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("+155500%02d", i)
		records[id] = record(id, 40+i, 1)
	}
	d, mock, _, _ := newTestBot(t, records, config.File{})

	dispatch(d, adminID, "!idle")

	assert.Contains(t, mock.LastReply(), "... and 2 more users")
}

func TestIdle_ProtectedExcluded(t *testing.T) {
	d, mock, _, _ := newTestBot(t, map[string]activity.Record{
		"+p": record("+p", 90, 1),
		"+q": record("+q", 90, 1),
	}, config.File{ProtectedUsers: []string{"+p"}})

	dispatch(d, adminID, "!idle")

	reply := mock.LastReply()
	assert.Contains(t, reply, "Found 1 idle users")
	assert.NotContains(t, reply, "+p")
}

func TestRemoveIdle_DryRunEnumeratesWithoutAction(t *testing.T) {
	records := map[string]activity.Record{
		"+a": record("+a", 40, 3),
		"+b": record("+b", 50, 5),
		"+c": record("+c", 60, 1),
	}
	d, mock, store, _ := newTestBot(t, records, config.File{})

	dispatch(d, adminID, "!remove-idle")

	reply := mock.LastReply()
	assert.Contains(t, reply, "DRY RUN: Would remove 3 idle users")
	for _, id := range []string{"+a", "+b", "+c"} {
		assert.Contains(t, reply, id)
	}
	assert.Contains(t, reply, "No action was taken")

	// The candidates' records are untouched.
	for id, want := range records {
		got, ok := store.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, want.MessageCount, got.MessageCount)
		assert.True(t, got.LastSeen.Equal(want.LastSeen))
	}
}

func TestRemoveIdle_LiveModeReportsDelegation(t *testing.T) {
	d, mock, store, _ := newTestBot(t, map[string]activity.Record{
		"+a": record("+a", 40, 3),
	}, config.File{DryRun: boolPtr(false)})

	dispatch(d, adminID, "!remove-idle")

	reply := mock.LastReply()
	assert.Contains(t, reply, "1 idle users selected for removal")
	assert.Contains(t, reply, "delegated to the messaging transport")

	got, ok := store.Get("+a")
	require.True(t, ok)
	assert.Equal(t, 3, got.MessageCount, "engine never mutates membership or records")
}

func TestRemoveIdle_CapsEnumerationAtFive(t *testing.T) {
	records := make(map[string]activity.Record)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("+155501%02d", i)
		records[id] = record(id, 40+i, 1)
	}
	d, mock, _, _ := newTestBot(t, records, config.File{})

	dispatch(d, adminID, "!remove-idle")

	assert.Contains(t, mock.LastReply(), "... and 3 more")
}

func TestRemoveIdle_Empty(t *testing.T) {
	d, mock, _, _ := newTestBot(t, nil, config.File{})

	dispatch(d, adminID, "!remove-idle")

	assert.Equal(t, "✅ No idle users to remove.", mock.LastReply())
}

func TestStats_Report(t *testing.T) {
	d, mock, _, _ := newTestBot(t, map[string]activity.Record{
		"+a": record("+a", 2, 9),
		"+b": record("+b", 35, 4),
		"+c": record("+c", 10, 2),
	}, config.File{ProtectedUsers: []string{"+z"}})

	dispatch(d, adminID, "!stats")

	reply := mock.LastReply()
	// The admin's own !stats message was tracked first: 4 members total.
	assert.Contains(t, reply, "Total tracked users: 4")
	assert.Contains(t, reply, "Idle users: 1")
	assert.Contains(t, reply, "Active users: 3")
	assert.Contains(t, reply, "Active last 7 days: 2")
	assert.Contains(t, reply, "Idle threshold: 30 days")
	assert.Contains(t, reply, "Protected users: 1")
	assert.Contains(t, reply, "Dry run mode: On")
}

func TestStats_EmptyStore(t *testing.T) {
	d, _, _, _ := newTestBot(t, nil, config.File{})

	reply := d.handleStats(context.Background(), transport.Message{}, adminID)

	assert.Equal(t, "📊 No activity data available yet.", reply)
}

func TestConfig_Show(t *testing.T) {
	d, mock, _, _ := newTestBot(t, nil, config.File{ProtectedUsers: []string{"+z"}})

	dispatch(d, adminID, "!config")

	reply := mock.LastReply()
	assert.Contains(t, reply, "Current Configuration")
	assert.Contains(t, reply, "Idle threshold: 30 days")
	assert.Contains(t, reply, "Dry run mode: On")
	assert.Contains(t, reply, "Protected users: 1")
	assert.Contains(t, reply, "Admin numbers: 1")
}

func TestConfig_ThresholdUpdateTakesEffect(t *testing.T) {
	d, mock, _, cfg := newTestBot(t, map[string]activity.Record{
		"+a": record("+a", 40, 1),
	}, config.File{})

	// Idle at the default 30-day threshold.
	dispatch(d, adminID, "!idle")
	assert.Contains(t, mock.LastReply(), "Found 1 idle users")

	dispatch(d, adminID, "!config threshold 45")
	assert.Equal(t, "✅ Idle threshold set to 45 days", mock.LastReply())
	assert.Equal(t, 45, cfg.ThresholdDays())

	// No restart needed: the next query uses the 45-day cutoff.
	dispatch(d, adminID, "!idle")
	assert.Contains(t, mock.LastReply(), "No idle users found (threshold: 45 days)")
}

func TestConfig_ThresholdRejectsInvalid(t *testing.T) {
	d, mock, _, cfg := newTestBot(t, nil, config.File{})

	for _, value := range []string{"abc", "-5", "0", "4.5"} {
		dispatch(d, adminID, "!config threshold "+value)
		assert.Contains(t, mock.LastReply(), "Invalid number for threshold", value)
	}
	assert.Equal(t, 30, cfg.ThresholdDays())
}

func TestConfig_DryRunUpdate(t *testing.T) {
	d, mock, _, cfg := newTestBot(t, nil, config.File{})

	dispatch(d, adminID, "!config dry_run false")
	assert.Equal(t, "✅ Dry run mode disabled", mock.LastReply())
	assert.False(t, cfg.DryRun())

	dispatch(d, adminID, "!config dry_run on")
	assert.Equal(t, "✅ Dry run mode enabled", mock.LastReply())
	assert.True(t, cfg.DryRun())

	dispatch(d, adminID, "!config dry_run maybe")
	assert.Contains(t, mock.LastReply(), "Use 'true' or 'false'")
	assert.True(t, cfg.DryRun(), "invalid value must not mutate")
}

func TestConfig_UnknownSetting(t *testing.T) {
	d, mock, _, _ := newTestBot(t, nil, config.File{})

	dispatch(d, adminID, "!config frequency 10")

	assert.Equal(t, "❌ Unknown setting. Available: threshold, dry_run", mock.LastReply())
}

func TestConfig_Usage(t *testing.T) {
	d, mock, _, _ := newTestBot(t, nil, config.File{})

	dispatch(d, adminID, "!config threshold")

	assert.Contains(t, mock.LastReply(), "Usage:")
}

func TestHelp_Admin(t *testing.T) {
	d, mock, _, _ := newTestBot(t, nil, config.File{})

	dispatch(d, adminID, "!help")

	reply := mock.LastReply()
	assert.Contains(t, reply, "Admin Commands")
	assert.Contains(t, reply, "`!remove-idle`")
	assert.NotContains(t, reply, "require admin privileges")
}

func TestHelp_NonAdmin(t *testing.T) {
	d, mock, _, _ := newTestBot(t, nil, config.File{})

	dispatch(d, memberID, "!help")

	reply := mock.LastReply()
	assert.NotContains(t, reply, "Admin Commands")
	assert.Contains(t, reply, "`!help`")
	assert.Contains(t, reply, "Most commands require admin privileges")
}

func boolPtr(v bool) *bool { return &v }
