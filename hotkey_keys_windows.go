package main

import "golang.design/x/hotkey"

var modMap = map[string]hotkey.Modifier{
	"ctrl":    hotkey.ModCtrl,
	"control": hotkey.ModCtrl,
	"shift":   hotkey.ModShift,
	"alt":     hotkey.ModAlt,
	"win":     hotkey.ModWin,
}

var modLabels = map[string]string{
	"ctrl": "Ctrl", "control": "Ctrl",
	"shift": "Shift",
	"alt":   "Alt",
	"win":   "Win",
}
