package bot

import (
	"errors"
	"fmt"
)

// State 是控制器生命周期状态。
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
	StateError   State = "ERROR"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// Command 是外部可触发的生命周期操作。
type Command string

const (
	CmdStart  Command = "start"
	CmdStop   Command = "stop"
	CmdPause  Command = "pause"
	CmdResume Command = "resume"
)

func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CmdStart, CmdStop, CmdPause, CmdResume:
		return c, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// next 返回命令作用于 from 后的状态；ERROR 只接受 stop，目标状态与当前相同视为非法。
func next(from State, cmd Command) (State, error) {
	var to State
	switch cmd {
	case CmdStart:
		if from == StateStopped {
			to = StateRunning
		}
	case CmdStop:
		if from != StateStopped {
			to = StateStopped
		}
	case CmdPause:
		if from == StateRunning {
			to = StatePaused
		}
	case CmdResume:
		if from == StatePaused {
			to = StateRunning
		}
	}
	if to == "" {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, cmd, from)
	}
	return to, nil
}
