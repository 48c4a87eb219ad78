package main

import "golang.design/x/hotkey"

var modMap = map[string]hotkey.Modifier{
	"ctrl":    hotkey.ModCtrl,
	"control": hotkey.ModCtrl,
	"option":  hotkey.ModOption,
	"alt":     hotkey.ModOption,
	"shift":   hotkey.ModShift,
	"cmd":     hotkey.ModCmd,
	"command": hotkey.ModCmd,
}

var modLabels = map[string]string{
	"ctrl": "⌃", "control": "⌃",
	"option": "⌥", "alt": "⌥",
	"shift": "⇧",
	"cmd":   "⌘", "command": "⌘",
}
