package main

import "golang.design/x/hotkey"

// Mod1 and Mod4 are the usual X11 bindings for Alt and Super.
var modMap = map[string]hotkey.Modifier{
	"ctrl":    hotkey.ModCtrl,
	"control": hotkey.ModCtrl,
	"shift":   hotkey.ModShift,
	"alt":     hotkey.Mod1,
	"super":   hotkey.Mod4,
	"win":     hotkey.Mod4,
}

var modLabels = map[string]string{
	"ctrl": "Ctrl", "control": "Ctrl",
	"shift": "Shift",
	"alt":   "Alt",
	"super": "Super", "win": "Super",
}
