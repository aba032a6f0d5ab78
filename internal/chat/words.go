package chat

import "strings"

// SplitWords splits a reply on single spaces.
// Runs of spaces yield empty words so that joining the fragments
// (each word plus one space) restores the reply followed by one space.
func SplitWords(reply string) []string {
	return strings.Split(reply, " ")
}
