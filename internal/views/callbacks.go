// Package views renders the bot's messages and inline keyboards.
package views

import (
	"strconv"
	"strings"

	"taskbot/pkg/tgui"
)

// Callback scopes.
const (
	ScopeMenu     = "menu"
	ScopeList     = "list"
	ScopeTask     = "task"
	ScopeReminder = "rem"
	ScopeAssignee = "asg"
	ScopeZone     = "tz"
)

// Callback actions.
const (
	ActMain        = "main"
	ActCreate      = "create"
	ActList        = "list"
	ActDeleteAll   = "delall"
	ActDeleteAllOK = "delall_ok"

	ActPage = "page"

	ActView       = "view"
	ActConfirm    = "confirm"
	ActDelete     = "delete"
	ActReschedule = "resched"
	ActReminder   = "remind"
	ActEdit       = "edit"
	ActEditText   = "edit_text"
	ActEditDate   = "edit_date"
	ActTextOK     = "text_ok"
	ActDateOK     = "date_ok"

	ActSet = "set"

	ActYes  = "yes"
	ActNo   = "no"
	ActMore = "more"
	ActDone = "done"

	ActZoneMenu   = "menu"
	ActZonePick   = "pick"
	ActZoneCustom = "custom"
	ActZoneOK     = "ok"
)

// ReminderData encodes a reminder choice as "rem:set:<task>:<minutes>".
func ReminderData(taskID int64, minutes int) string {
	return tgui.Data(ScopeReminder, ActSet, strconv.FormatInt(taskID, 10)+":"+strconv.Itoa(minutes))
}

// ParseReminder decodes the payload of ReminderData.
func ParseReminder(payload string) (taskID int64, minutes int, ok bool) {
	id, rest, found := strings.Cut(payload, ":")
	if !found {
		return 0, 0, false
	}
	taskID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if minutes, err = strconv.Atoi(rest); err != nil {
		return 0, 0, false
	}
	return taskID, minutes, true
}
