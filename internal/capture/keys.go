package capture

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// linuxKeySymbols maps Linux input event codes to key symbols.
// Letters and digits use their lowercase character; named keys use
// snake_case identifiers.
var linuxKeySymbols = map[uint16]string{
	1:  "escape",
	2:  "1",
	3:  "2",
	4:  "3",
	5:  "4",
	6:  "5",
	7:  "6",
	8:  "7",
	9:  "8",
	10: "9",
	11: "0",
	12: "-",
	13: "=",
	14: "backspace",
	15: "tab",
	16: "q",
	17: "w",
	18: "e",
	19: "r",
	20: "t",
	21: "y",
	22: "u",
	23: "i",
	24: "o",
	25: "p",
	26: "[",
	27: "]",
	28: "enter",
	29: "left_ctrl",
	30: "a",
	31: "s",
	32: "d",
	33: "f",
	34: "g",
	35: "h",
	36: "j",
	37: "k",
	38: "l",
	39: ";",
	40: "'",
	41: "`",
	42: "left_shift",
	43: "\\",
	44: "z",
	45: "x",
	46: "c",
	47: "v",
	48: "b",
	49: "n",
	50: "m",
	51: ",",
	52: ".",
	53: "/",
	54: "right_shift",
	55: "kp_asterisk",
	56: "left_alt",
	57: "space",
	58: "caps_lock",
	59: "f1",
	60: "f2",
	61: "f3",
	62: "f4",
	63: "f5",
	64: "f6",
	65: "f7",
	66: "f8",
	67: "f9",
	68: "f10",
	69: "num_lock",
	70: "scroll_lock",
	87: "f11",
	88: "f12",
	96: "kp_enter",
	97: "right_ctrl",
	98: "kp_slash",
	100: "right_alt",
	102: "home",
	103: "up",
	104: "page_up",
	105: "left",
	106: "right",
	107: "end",
	108: "down",
	109: "page_down",
	110: "insert",
	111: "delete",
	119: "pause",
	125: "left_meta",
	126: "right_meta",
	127: "menu",
}

// symbolForCode returns the symbol for a Linux key code.
func symbolForCode(code uint16) string {
	if sym, ok := linuxKeySymbols[code]; ok {
		return sym
	}
	return fmt.Sprintf("unknown_%d", code)
}

// IsModifier reports whether symbol names a modifier key.
func IsModifier(symbol string) bool {
	switch symbol {
	case "left_shift", "right_shift",
		"left_ctrl", "right_ctrl",
		"left_alt", "right_alt",
		"left_meta", "right_meta",
		"caps_lock":
		return true
	}
	return false
}

// IsFunctionKey reports whether symbol names one of F1-F24.
func IsFunctionKey(symbol string) bool {
	if len(symbol) < 2 || symbol[0] != 'f' {
		return false
	}
	for _, c := range symbol[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	n := 0
	fmt.Sscanf(symbol[1:], "%d", &n)
	return n >= 1 && n <= 24
}

// PrintableRune returns the character a symbol contributes to typed
// text, or empty. Single-rune symbols are printable; "space" maps to
// a space. Named keys contribute nothing.
func PrintableRune(symbol string) string {
	if symbol == "space" {
		return " "
	}
	if utf8.RuneCountInString(symbol) == 1 && !strings.ContainsAny(symbol, "\x00") {
		return symbol
	}
	return ""
}
