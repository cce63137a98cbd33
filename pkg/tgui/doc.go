// Package tgui holds small chat UI helpers:
//   - HTML escaping for Telegram's HTML parse mode
//   - inline keyboard builders (transport-neutral)
//   - callback data helpers ("scope:action:payload")
package tgui
