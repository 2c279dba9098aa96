package terminal

import (
	"regexp"
	"strings"
)

var shellMetachars = regexp.MustCompile("[|&;<>()$`\\\\\"'*?\\[\\]{}~\\n]")

// ParsedCommand is the result of interpreting a terminal command request.
type ParsedCommand struct {
	Command string
	Args    []string
	// Script is set when Command must be handed to a shell unchanged.
	Script bool
}

// ParseCommand interprets the command of a terminal request. Explicit args are
// used as given. Otherwise a command with shell metacharacters runs through
// the shell, and a plain command is split on spaces. Quoted arguments
// containing spaces only survive the shell path.
func ParseCommand(command string, args []string) ParsedCommand {
	command = strings.TrimSpace(command)
	if len(args) > 0 {
		return ParsedCommand{Command: command, Args: append([]string(nil), args...)}
	}
	if shellMetachars.MatchString(command) {
		return ParsedCommand{Command: command, Script: true}
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ParsedCommand{}
	}
	return ParsedCommand{Command: fields[0], Args: fields[1:]}
}
